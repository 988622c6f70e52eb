package event

import (
	"context"
	"log/slog"
	"sync"
)

const subscriberBuffer = 32

// Hub fans events out to per-tenant subscribers. Publish never blocks: a
// subscriber that cannot keep up loses events rather than stalling the
// ingestion path.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{} // tenant id -> subscriber channels
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger: log.With(slog.String("service", "event-hub")),
		subs:   map[string]map[chan Event]struct{}{},
	}
}

// Subscribe registers a listener for one tenant's events. The returned cancel
// function must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(tenantID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = map[chan Event]struct{}{}
	}
	h.subs[tenantID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[tenantID], ch)
			if len(h.subs[tenantID]) == 0 {
				delete(h.subs, tenantID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its tenant.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[evt.TenantID] {
		select {
		case ch <- evt:
		default:
			h.logger.Warn("subscriber lagging, event dropped",
				slog.String("tenant_id", evt.TenantID),
				slog.String("type", string(evt.Type)),
			)
		}
	}
	return nil
}
