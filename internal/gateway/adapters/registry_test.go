package adapters

import (
	"testing"

	"github.com/faturo/faturo/internal/gateway/adapters/asaas"
	"github.com/faturo/faturo/internal/gateway/adapters/iugu"
	"github.com/faturo/faturo/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry(asaas.NewFactory(), iugu.NewFactory(), nil)

	assert.True(t, registry.ProviderExists("asaas"))
	assert.True(t, registry.ProviderExists(" Iugu "))
	assert.False(t, registry.ProviderExists("stripe"))

	cfg := domain.GatewayConfig{
		Active:  true,
		APIKey:  "key",
		BaseURL: "https://api.asaas.test",
	}
	adapter, err := registry.NewAdapter("asaas", cfg)
	require.NoError(t, err)
	assert.NotNil(t, adapter)

	_, err = registry.NewAdapter("stripe", cfg)
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestRegistry_RejectsInvalidConfig(t *testing.T) {
	registry := NewRegistry(asaas.NewFactory())

	_, err := registry.NewAdapter("asaas", domain.GatewayConfig{Active: false, APIKey: "key", BaseURL: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = registry.NewAdapter("asaas", domain.GatewayConfig{Active: true, BaseURL: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = registry.NewAdapter("asaas", domain.GatewayConfig{Active: true, APIKey: "key"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
