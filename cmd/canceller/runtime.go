package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"txcanceller/internal/application"
	"txcanceller/internal/config"
	"txcanceller/internal/domain"
	"txcanceller/internal/infrastructure/clickhouse"
	"txcanceller/internal/infrastructure/ethrpc"
	"txcanceller/internal/infrastructure/ethsender"
	"txcanceller/internal/infrastructure/filfox"
	"txcanceller/internal/infrastructure/kafka"
	"txcanceller/internal/infrastructure/logging"
	"txcanceller/internal/infrastructure/memory"
	"txcanceller/internal/infrastructure/mysql"
	"txcanceller/internal/infrastructure/sqlite"
	"txcanceller/internal/infrastructure/telemetry"
	"txcanceller/internal/interfaces/httpapi"

	"github.com/ethereum/go-ethereum/ethclient"
)

type pendingStore interface {
	application.PendingStore
	Ping(ctx context.Context) error
}

// runtime holds every adapter a subcommand may need, built from the loaded config.
type runtime struct {
	cfg       config.Config
	store     pendingStore
	rpc       *ethrpc.Client
	history   application.ReplacementHistory
	metrics   *httpapi.Metrics
	canceller *application.Canceller
	closers   []func() error
}

type runtimeOptions struct {
	// withSender dials the node and loads PRIVATE_KEY; read-only commands skip it.
	withSender bool
	withEvents bool
}

func newRuntime(ctx context.Context, cfg config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg, metrics: httpapi.NewMetrics()}
	if err := rt.init(ctx, opts); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) init(ctx context.Context, opts runtimeOptions) error {
	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.ServiceName, version, rt.cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init failed", "err", err)
	} else {
		rt.closers = append(rt.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdownTracing(shutdownCtx)
		})
	}

	store, err := rt.openStore()
	if err != nil {
		return fmt.Errorf("store error: %w", err)
	}
	rt.store = store

	rt.rpc, err = ethrpc.NewClient(ethrpc.Config{URL: rt.cfg.RPCURL})
	if err != nil {
		return fmt.Errorf("rpc error: %w", err)
	}
	oracle, err := rt.openOracle()
	if err != nil {
		return fmt.Errorf("fee oracle error: %w", err)
	}

	var sender application.Sender = disabledSender{}
	if opts.withSender {
		sender, err = rt.openSender(ctx)
		if err != nil {
			return fmt.Errorf("sender error: %w", err)
		}
	}

	cancellerCfg := application.CancellerConfig{Observer: rt.metrics}
	if opts.withEvents {
		cancellerCfg.Events = rt.openEvents()
	}
	rt.canceller, err = application.NewCanceller(store, sender, oracle, logging.NewSlogSink("canceller"), cancellerCfg)
	return err
}

func (rt *runtime) openStore() (pendingStore, error) {
	var base pendingStore
	switch rt.cfg.StoreDriver {
	case config.StoreMemory:
		base = memory.NewStore()
	case config.StoreSQLite:
		repo, err := sqlite.NewRepository(rt.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, repo.Close)
		base = repo
	case config.StoreMySQL:
		repo, err := mysql.NewRepository(rt.cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, repo.Close)
		base = repo
	default:
		return nil, fmt.Errorf("unknown store driver %q", rt.cfg.StoreDriver)
	}
	if rt.cfg.RedisAddr == "" {
		return base, nil
	}
	cached, err := mysql.NewCachedRepository(base, mysql.CacheConfig{Addr: rt.cfg.RedisAddr})
	if err != nil {
		slog.Warn("redis cache disabled", "err", err)
		return base, nil
	}
	rt.closers = append(rt.closers, cached.Close)
	return cached, nil
}

func (rt *runtime) openOracle() (application.FeeOracle, error) {
	switch rt.cfg.FeeOracle {
	case config.OracleRPC:
		return rt.rpc, nil
	case config.OracleFilfox:
		return filfox.NewOracle(filfox.Config{BaseURL: rt.cfg.FilfoxURL})
	default:
		return nil, fmt.Errorf("unknown fee oracle %q", rt.cfg.FeeOracle)
	}
}

func (rt *runtime) openSender(ctx context.Context) (*ethsender.Sender, error) {
	if rt.cfg.PrivateKey == "" {
		return nil, errors.New("PRIVATE_KEY is required to send replacements")
	}
	key, err := ethsender.ParsePrivateKey(rt.cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, rt.cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error {
		client.Close()
		return nil
	})
	chainID := new(big.Int).SetUint64(rt.cfg.ChainID)
	if rt.cfg.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	sender, err := ethsender.NewSender(client, key, ethsender.Config{ChainID: chainID})
	if err != nil {
		return nil, err
	}
	slog.Info("replacement sender ready", "address", sender.Address(), "chain_id", chainID)
	return sender, nil
}

func (rt *runtime) openEvents() application.MultiSink {
	recent := memory.NewHistory(0)
	rt.history = recent
	sinks := application.MultiSink{recent}

	if len(rt.cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: rt.cfg.KafkaBrokers,
			Topic:   rt.cfg.KafkaTopic,
			ChainID: rt.cfg.ChainID,
		})
		if err != nil {
			slog.Warn("kafka events disabled", "err", err)
		} else {
			rt.closers = append(rt.closers, producer.Close)
			sinks = append(sinks, producer)
		}
	}
	if rt.cfg.ClickhouseDSN != "" {
		repo, err := clickhouse.NewRepository(rt.cfg.ClickhouseDSN)
		if err != nil {
			slog.Warn("clickhouse history disabled", "err", err)
		} else {
			rt.closers = append(rt.closers, repo.Close)
			rt.history = repo
			sinks = append(sinks, repo)
		}
	}
	return sinks
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// disabledSender backs commands that only read or edit the pending store.
type disabledSender struct{}

func (disabledSender) Send(context.Context, domain.ReplacementParams) (application.SentTransaction, error) {
	return nil, errors.New("sending is disabled for this command")
}
