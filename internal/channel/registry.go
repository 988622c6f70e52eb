package channel

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds all registered channel adapters and dispatches on their
// capabilities. Adding a channel means registering one adapter here; the
// resolver, store, and dispatch router never change.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ChannelType]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[ChannelType]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	ct := normalizeChannelType(adapter.Type().String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType ChannelType) (Adapter, bool) {
	ct := normalizeChannelType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// Types returns all registered channel types.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]ChannelType, 0, len(r.adapters))
	for ct := range r.adapters {
		items = append(items, ct)
	}
	return items
}

// ParseChannelType validates and normalizes a raw string into a registered
// ChannelType.
func (r *Registry) ParseChannelType(raw string) (ChannelType, error) {
	ct := normalizeChannelType(raw)
	if ct == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, raw)
	}
	if _, ok := r.Get(ct); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, raw)
	}
	return ct, nil
}

// GetParser returns the Parser for the given channel type, or nil if
// unsupported.
func (r *Registry) GetParser(channelType ChannelType) (Parser, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	parser, ok := adapter.(Parser)
	return parser, ok
}

// GetSender returns the Sender for the given channel type, or nil if
// unsupported.
func (r *Registry) GetSender(channelType ChannelType) (Sender, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(Sender)
	return sender, ok
}

// GetReadNotifier returns the ReadNotifier for the given channel type, or nil
// if unsupported.
func (r *Registry) GetReadNotifier(channelType ChannelType) (ReadNotifier, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	notifier, ok := adapter.(ReadNotifier)
	return notifier, ok
}

func normalizeChannelType(raw string) ChannelType {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return ""
	}
	return ChannelType(normalized)
}
