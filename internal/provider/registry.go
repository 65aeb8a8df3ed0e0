package provider

import (
	"sync"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Registry maps each channel to an ordered provider list. GetProvider
// returns the first enabled provider for a channel, so registration order
// is the fallback order.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[domain.Channel][]Provider
}

func NewRegistry() *Registry {
	return &Registry{byChannel: make(map[domain.Channel][]Provider)}
}

// Register appends p to the provider list of every channel it serves.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range p.Types() {
		r.byChannel[ch] = append(r.byChannel[ch], p)
	}
}

// GetProvider returns the first enabled provider for ch, or
// ErrProviderNotConfigured when none is available.
func (r *Registry) GetProvider(ch domain.Channel) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byChannel[ch] {
		if p.Enabled() {
			return p, nil
		}
	}
	return nil, domain.ErrProviderNotConfigured
}

// Providers returns the full ordered list for ch, enabled or not.
func (r *Registry) Providers(ch domain.Channel) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.byChannel[ch]...)
}
