package application

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type StuckCanceller interface {
	CancelOlderThan(ctx context.Context, age time.Duration, opts ...SweepOption) ([]Outcome, error)
}

type SweeperConfig struct {
	StuckAfter   time.Duration
	PollInterval time.Duration
	Concurrency  int
}

// Sweeper triggers a cancellation sweep on a fixed interval. Failed candidates stay in the
// store and are picked up again by a later sweep.
type Sweeper struct {
	canceller StuckCanceller
	cfg       SweeperConfig
}

func NewSweeper(canceller StuckCanceller, cfg SweeperConfig) (*Sweeper, error) {
	if canceller == nil {
		return nil, errors.New("sweeper canceller must not be nil")
	}
	if cfg.StuckAfter < 0 {
		return nil, errors.New("stuck threshold must not be negative")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Sweeper{canceller: canceller, cfg: cfg}, nil
}

func (s *Sweeper) Run(ctx context.Context) error {
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// failed candidates and transient store errors are retried by the next tick
			slog.Warn("sweep failed", "err", err, "oracle_unavailable", errors.Is(err, ErrUpstreamUnavailable))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) ([]Outcome, error) {
	start := time.Now()
	outcomes, err := s.canceller.CancelOlderThan(ctx, s.cfg.StuckAfter, WithConcurrency(s.cfg.Concurrency))
	if err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return outcomes, nil
	}

	var replaced, expired, failed int
	for _, outcome := range outcomes {
		switch {
		case outcome.Err != nil:
			failed++
			slog.Warn("replacement failed", "hash", outcome.Hash, "nonce", outcome.Nonce, "err", outcome.Err)
		case outcome.NonceExpired:
			expired++
		default:
			replaced++
		}
	}
	slog.Info("sweep finished",
		"candidates", len(outcomes),
		"replaced", replaced,
		"nonce_expired", expired,
		"failed", failed,
		"duration", time.Since(start),
	)
	return outcomes, nil
}
