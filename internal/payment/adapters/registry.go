package adapters

import (
	"strings"
	"sync"

	paymentdomain "github.com/openledger/payline/internal/payment/domain"
)

// Registry resolves gateway adapters by provider name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]paymentdomain.AdapterFactory
}

func NewRegistry(factories ...paymentdomain.AdapterFactory) *Registry {
	registry := &Registry{factories: make(map[string]paymentdomain.AdapterFactory)}
	for _, factory := range factories {
		registry.Register(factory)
	}
	return registry
}

func (r *Registry) Register(factory paymentdomain.AdapterFactory) {
	if factory == nil {
		return
	}
	provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.factories[provider] = factory
	r.mu.Unlock()
}

func (r *Registry) ProviderExists(provider string) bool {
	r.mu.RLock()
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) NewAdapter(provider string, config paymentdomain.AdapterConfig) (paymentdomain.GatewayAdapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	r.mu.RUnlock()
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return factory.NewAdapter(config)
}
