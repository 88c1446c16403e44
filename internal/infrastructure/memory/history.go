package memory

import (
	"context"
	"strings"
	"sync"

	"txcanceller/internal/application"
	"txcanceller/internal/domain"
)

const defaultHistoryCapacity = 1024

// History keeps the most recent replacement events in a fixed-size ring.
type History struct {
	mu     sync.Mutex
	events []domain.ReplacementEvent
	next   int
	full   bool
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	return &History{events: make([]domain.ReplacementEvent, capacity)}
}

func (h *History) PublishReplacement(_ context.Context, event domain.ReplacementEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = event
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

func (h *History) QueryReplacements(_ context.Context, filter application.HistoryFilter) ([]domain.ReplacementEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.events)
	}
	limit := filter.NormalizedLimit()
	out := make([]domain.ReplacementEvent, 0, min(limit, size))
	for i := 1; i <= size && len(out) < limit; i++ {
		event := h.events[(h.next-i+len(h.events))%len(h.events)]
		if filter.OriginalHash != "" && !strings.EqualFold(event.OriginalHash, filter.OriginalHash) {
			continue
		}
		if filter.From != "" && !strings.EqualFold(event.From, filter.From) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}
