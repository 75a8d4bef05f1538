// Package adapters holds the provider registry and one sub-package per
// payment provider.
package adapters

import (
	"strings"

	"github.com/faturo/faturo/internal/gateway/domain"
)

// Registry maps provider codes to adapter factories. It is constructed once
// at the composition root and injected; nothing registers itself through
// package init.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

// NewAdapter validates the config before handing it to the factory, so an
// inactive or credential-less config never produces a network-capable
// adapter.
func (r *Registry) NewAdapter(provider string, cfg domain.GatewayConfig) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return factory.NewAdapter(cfg)
}
