package provider

import (
	"fmt"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// Registry maps (channel, provider) pairs to senders. It is assembled once at
// startup and holds no state beyond the mapping; resolution falls back to the
// channel default when the hint is absent or not configured.
type Registry struct {
	senders  map[domain.Channel]map[domain.Provider]Sender
	defaults map[domain.Channel]domain.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		senders:  make(map[domain.Channel]map[domain.Provider]Sender),
		defaults: make(map[domain.Channel]domain.Provider),
	}
}

// Register adds a sender for a channel/provider pair. The first sender
// registered for a channel becomes its default.
func (r *Registry) Register(channel domain.Channel, key domain.Provider, sender Sender) error {
	if !channel.IsValid() {
		return fmt.Errorf("invalid channel %q", channel)
	}
	if !key.IsValid() {
		return fmt.Errorf("invalid provider %q", key)
	}
	if sender == nil {
		return fmt.Errorf("sender is required")
	}

	if r.senders[channel] == nil {
		r.senders[channel] = make(map[domain.Provider]Sender)
	}
	r.senders[channel][key] = sender

	if _, ok := r.defaults[channel]; !ok {
		r.defaults[channel] = key
	}
	return nil
}

// SetDefault overrides the default provider for a channel. The provider must
// already be registered.
func (r *Registry) SetDefault(channel domain.Channel, key domain.Provider) error {
	if _, ok := r.senders[channel][key]; !ok {
		return fmt.Errorf("provider %s is not registered for channel %s", key, channel)
	}
	r.defaults[channel] = key
	return nil
}

// Resolve returns the sender for a channel honoring the optional hint,
// along with the identity of the provider it resolved to. Unknown hints fall
// back to the channel default; a channel with no senders resolves to
// ErrNoProvider.
func (r *Registry) Resolve(channel domain.Channel, hint domain.Provider) (Sender, domain.Provider, error) {
	byProvider := r.senders[channel]
	if len(byProvider) == 0 {
		return nil, "", fmt.Errorf("%w for channel %s", ErrNoProvider, channel)
	}

	if hint != "" {
		if sender, ok := byProvider[hint]; ok {
			return sender, hint, nil
		}
	}

	defaultKey, ok := r.defaults[channel]
	if !ok {
		return nil, "", fmt.Errorf("%w for channel %s", ErrNoProvider, channel)
	}

	sender, ok := byProvider[defaultKey]
	if !ok {
		return nil, "", fmt.Errorf("%w for channel %s", ErrNoProvider, channel)
	}
	return sender, defaultKey, nil
}
