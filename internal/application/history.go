package application

import (
	"context"
	"errors"

	"txcanceller/internal/domain"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

type HistoryFilter struct {
	OriginalHash string
	From         string
	Limit        int
}

// NormalizedLimit clamps Limit into (0, MaxHistoryLimit].
func (f HistoryFilter) NormalizedLimit() int {
	if f.Limit <= 0 || f.Limit > MaxHistoryLimit {
		return DefaultHistoryLimit
	}
	return f.Limit
}

// ReplacementHistory reads back settled replacement attempts, newest first.
type ReplacementHistory interface {
	QueryReplacements(ctx context.Context, filter HistoryFilter) ([]domain.ReplacementEvent, error)
}

// MultiSink fans one event out to every sink and joins their failures.
type MultiSink []EventSink

func (m MultiSink) PublishReplacement(ctx context.Context, event domain.ReplacementEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PublishReplacement(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
