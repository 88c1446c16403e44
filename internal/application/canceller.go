package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"txcanceller/internal/domain"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 50

type PendingStore interface {
	Set(ctx context.Context, tx domain.PendingTransaction) error
	List(ctx context.Context) ([]domain.PendingTransaction, error)
	Remove(ctx context.Context, hash string) error
}

// SentTransaction is a broadcast transaction whose confirmation can be awaited.
type SentTransaction interface {
	Hash() string
	Wait(ctx context.Context) error
}

type Sender interface {
	Send(ctx context.Context, params domain.ReplacementParams) (SentTransaction, error)
}

type FeeOracle interface {
	FetchRecentFeeSample(ctx context.Context) (domain.FeeSample, error)
}

// EventSink receives settled replacement attempts. Publishing is best effort.
type EventSink interface {
	PublishReplacement(ctx context.Context, event domain.ReplacementEvent) error
}

type CancellerObserver interface {
	OnSweep(candidates int)
	OnOutcome(outcome Outcome)
	OnOracleError(err error)
}

type CancellerConfig struct {
	Events   EventSink
	Observer CancellerObserver
	Clock    func() time.Time
}

// Outcome is the settled result of one replacement attempt within a sweep.
type Outcome struct {
	Hash            string
	Nonce           uint64
	ReplacementHash string
	Replacement     domain.ReplacementParams
	NonceExpired    bool
	Err             error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

func (o Outcome) Status() domain.ReplacementStatus {
	switch {
	case o.Err != nil:
		return domain.ReplacementStatusFailed
	case o.NonceExpired:
		return domain.ReplacementStatusNonceExpired
	default:
		return domain.ReplacementStatusReplaced
	}
}

type sweepOptions struct {
	concurrency int
}

type SweepOption func(*sweepOptions)

// WithConcurrency bounds the number of replacement attempts in flight.
func WithConcurrency(n int) SweepOption {
	return func(o *sweepOptions) {
		o.concurrency = n
	}
}

// Canceller tracks broadcast transactions and replaces the ones that stay pending too long.
// It keeps no state between calls; every retry decision is derived from the store.
type Canceller struct {
	store    PendingStore
	sender   Sender
	oracle   FeeOracle
	log      LogSink
	events   EventSink
	observer CancellerObserver
	now      func() time.Time
}

func NewCanceller(store PendingStore, sender Sender, oracle FeeOracle, log LogSink, cfg CancellerConfig) (*Canceller, error) {
	if store == nil || sender == nil || oracle == nil {
		return nil, errors.New("canceller dependencies must not be nil")
	}
	if log == nil {
		log = discardSink{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Canceller{
		store:    store,
		sender:   sender,
		oracle:   oracle,
		log:      log,
		events:   cfg.Events,
		observer: cfg.Observer,
		now:      cfg.Clock,
	}, nil
}

// AddPending starts tracking a broadcast transaction.
func (c *Canceller) AddPending(ctx context.Context, tx domain.PendingTransaction) error {
	if err := validatePending(tx); err != nil {
		return err
	}
	record := domain.PendingTransaction{
		Hash:                 tx.Hash,
		From:                 tx.From,
		Nonce:                tx.Nonce,
		MaxPriorityFeePerGas: new(big.Int).Set(tx.MaxPriorityFeePerGas),
		GasLimit:             new(big.Int).Set(tx.GasLimit),
		Timestamp:            c.now().UTC(),
	}
	if err := c.store.Set(ctx, record); err != nil {
		return fmt.Errorf("store pending %s: %w", tx.Hash, err)
	}
	return nil
}

func validatePending(tx domain.PendingTransaction) error {
	switch {
	case tx.Hash == "":
		return fmt.Errorf("%w: hash is required", ErrInvalidTx)
	case tx.From == "":
		return fmt.Errorf("%w: from is required", ErrInvalidTx)
	case tx.MaxPriorityFeePerGas == nil:
		return fmt.Errorf("%w: maxPriorityFeePerGas is required", ErrInvalidTx)
	case tx.MaxPriorityFeePerGas.Sign() < 0:
		return fmt.Errorf("%w: maxPriorityFeePerGas must not be negative", ErrInvalidTx)
	case tx.GasLimit == nil:
		return fmt.Errorf("%w: gasLimit is required", ErrInvalidTx)
	case tx.GasLimit.Sign() < 0:
		return fmt.Errorf("%w: gasLimit must not be negative", ErrInvalidTx)
	}
	return nil
}

// RemoveConfirmed retires tx together with every record sharing its nonce, since the
// nonce has been consumed and no sibling can be mined anymore.
func (c *Canceller) RemoveConfirmed(ctx context.Context, tx domain.PendingTransaction) error {
	if tx.Hash == "" {
		return fmt.Errorf("%w: hash is required", ErrInvalidTx)
	}
	records, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	hashes := []string{tx.Hash}
	for _, record := range records {
		if record.Nonce == tx.Nonce && record.Hash != tx.Hash {
			hashes = append(hashes, record.Hash)
		}
	}
	var errs []error
	for _, hash := range hashes {
		if err := c.store.Remove(ctx, hash); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", hash, err))
		}
	}
	return errors.Join(errs...)
}

// CancelOlderThan replaces every pending transaction older than age. It returns nil
// outcomes when nothing is stale, without consulting the fee oracle. Individual
// replacement failures are reported in the outcomes and never abort the sweep.
func (c *Canceller) CancelOlderThan(ctx context.Context, age time.Duration, opts ...SweepOption) ([]Outcome, error) {
	options := sweepOptions{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&options)
	}
	if options.concurrency <= 0 {
		options.concurrency = DefaultConcurrency
	}

	ctx, span := otel.Tracer("txcanceller/canceller").Start(ctx, "canceller.sweep")
	defer span.End()

	c.log.Log("Checking for stuck transactions...")
	records, err := c.store.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list pending: %w", err)
	}

	now := c.now()
	candidates := selectCandidates(records, age, now)
	if c.observer != nil {
		c.observer.OnSweep(len(candidates))
	}
	span.SetAttributes(
		attribute.Int("pending.count", len(records)),
		attribute.Int("candidate.count", len(candidates)),
	)
	if len(candidates) == 0 {
		c.log.Log("No transactions to cancel")
		return nil, nil
	}

	c.log.Log("Transactions to cancel:")
	for _, tx := range candidates {
		c.log.Log(fmt.Sprintf("- %s (age %s)", tx.Hash, humanize.RelTime(tx.Timestamp, now, "", "")))
	}

	sample, err := c.oracle.FetchRecentFeeSample(ctx)
	if err != nil {
		if !errors.Is(err, ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		if c.observer != nil {
			c.observer.OnOracleError(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.log.Log(fmt.Sprintf(
		"Calculating gas fees from the recent Send message %s (created at %s)",
		sample.CID,
		sample.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
	))

	outcomes := make([]Outcome, len(candidates))
	var group errgroup.Group
	group.SetLimit(options.concurrency)
	for i, tx := range candidates {
		group.Go(func() error {
			outcome := c.replace(ctx, tx, sample)
			outcomes[i] = outcome
			c.settle(ctx, tx, sample, outcome)
			return nil
		})
	}
	_ = group.Wait()

	return outcomes, nil
}

// selectCandidates keeps records older than age, skips those superseded by a same-nonce
// record with a strictly greater gas limit, and dispatches at most one record per nonce.
// Among same-nonce ties the highest priority fee wins, then the lowest hash.
func selectCandidates(records []domain.PendingTransaction, age time.Duration, now time.Time) []domain.PendingTransaction {
	highest := make(map[uint64]*big.Int, len(records))
	for _, record := range records {
		gas := orZero(record.GasLimit)
		if current, ok := highest[record.Nonce]; !ok || gas.Cmp(current) > 0 {
			highest[record.Nonce] = gas
		}
	}

	stale := make([]domain.PendingTransaction, 0, len(records))
	for _, record := range records {
		if record.Age(now) <= age {
			continue
		}
		// Only gas limits are compared; a replacement that raised fees alone is not detected.
		if orZero(record.GasLimit).Cmp(highest[record.Nonce]) < 0 {
			continue
		}
		stale = append(stale, record)
	}

	sort.Slice(stale, func(a, b int) bool {
		if stale[a].Nonce != stale[b].Nonce {
			return stale[a].Nonce < stale[b].Nonce
		}
		if cmp := orZero(stale[a].MaxPriorityFeePerGas).Cmp(orZero(stale[b].MaxPriorityFeePerGas)); cmp != 0 {
			return cmp > 0
		}
		return stale[a].Hash < stale[b].Hash
	})
	candidates := make([]domain.PendingTransaction, 0, len(stale))
	for _, record := range stale {
		if n := len(candidates); n > 0 && candidates[n-1].Nonce == record.Nonce {
			continue
		}
		candidates = append(candidates, record)
	}
	return candidates
}

func (c *Canceller) replace(ctx context.Context, tx domain.PendingTransaction, sample domain.FeeSample) Outcome {
	ctx, span := otel.Tracer("txcanceller/canceller").Start(ctx, "canceller.replace", trace.WithAttributes(
		attribute.String("tx.hash", tx.Hash),
		attribute.Int64("tx.nonce", int64(tx.Nonce)),
	))
	defer span.End()

	outcome := Outcome{Hash: tx.Hash, Nonce: tx.Nonce}
	fail := func(err error) Outcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome.Err = err
		return outcome
	}

	c.log.Log(fmt.Sprintf("Replacing %s...", tx.Hash))
	params := ComputeReplacement(tx, sample.GasLimit, sample.GasFeeCap, c.log)
	outcome.Replacement = params

	sent, err := c.sender.Send(ctx, params)
	if err != nil {
		if errors.Is(err, ErrNonceExpired) {
			return c.retireExpired(ctx, tx, outcome, fail)
		}
		return fail(fmt.Errorf("broadcast replacement for %s: %w", tx.Hash, err))
	}
	outcome.ReplacementHash = sent.Hash()
	span.SetAttributes(attribute.String("replacement.hash", sent.Hash()))

	replacement := domain.PendingTransaction{
		Hash:                 sent.Hash(),
		From:                 tx.From,
		Nonce:                tx.Nonce,
		MaxPriorityFeePerGas: params.MaxPriorityFeePerGas,
		GasLimit:             params.GasLimit,
		Timestamp:            c.now().UTC(),
	}
	if err := c.store.Set(ctx, replacement); err != nil {
		return fail(fmt.Errorf("store replacement %s: %w", sent.Hash(), err))
	}

	c.log.Log(fmt.Sprintf("Waiting for receipt of replacing %s with %s...", tx.Hash, sent.Hash()))
	if err := sent.Wait(ctx); err != nil {
		if errors.Is(err, ErrNonceExpired) {
			return c.retireExpired(ctx, tx, outcome, fail)
		}
		return fail(fmt.Errorf("wait for replacement %s: %w", sent.Hash(), err))
	}
	if err := c.RemoveConfirmed(ctx, replacement); err != nil {
		return fail(err)
	}
	c.log.Log(fmt.Sprintf("Replaced %s with %s", tx.Hash, sent.Hash()))
	return outcome
}

func (c *Canceller) retireExpired(ctx context.Context, tx domain.PendingTransaction, outcome Outcome, fail func(error) Outcome) Outcome {
	c.log.Log(fmt.Sprintf("Nonce %d of %s was already consumed, treating %s as confirmed", tx.Nonce, tx.From, tx.Hash))
	if err := c.RemoveConfirmed(ctx, tx); err != nil {
		return fail(err)
	}
	outcome.NonceExpired = true
	return outcome
}

func (c *Canceller) settle(ctx context.Context, tx domain.PendingTransaction, sample domain.FeeSample, outcome Outcome) {
	if c.observer != nil {
		c.observer.OnOutcome(outcome)
	}
	if c.events == nil {
		return
	}
	event := domain.ReplacementEvent{
		ID:              uuid.NewString(),
		OriginalHash:    tx.Hash,
		ReplacementHash: outcome.ReplacementHash,
		From:            tx.From,
		Nonce:           tx.Nonce,
		Status:          outcome.Status(),
		FeeSampleCID:    sample.CID,
		OccurredAt:      c.now().UTC(),
	}
	if params := outcome.Replacement; params.GasLimit != nil {
		event.GasLimit = params.GasLimit.String()
		event.MaxFeePerGas = params.MaxFeePerGas.String()
		event.MaxPriorityFeePerGas = params.MaxPriorityFeePerGas.String()
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}
	if err := c.events.PublishReplacement(ctx, event); err != nil {
		c.log.Log(fmt.Sprintf("Failed to publish replacement event for %s: %v", tx.Hash, err))
	}
}
