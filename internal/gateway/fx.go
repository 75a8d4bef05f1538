package gateway

import (
	"github.com/faturo/faturo/internal/gateway/adapters"
	"github.com/faturo/faturo/internal/gateway/adapters/asaas"
	"github.com/faturo/faturo/internal/gateway/adapters/iugu"
	"github.com/faturo/faturo/internal/gateway/adapters/mercadopago"
	"github.com/faturo/faturo/internal/gateway/adapters/pagarme"
	"go.uber.org/fx"
)

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		asaas.NewFactory(),
		iugu.NewFactory(),
		pagarme.NewFactory(),
		mercadopago.NewFactory(),
	)
}

var Module = fx.Module("gateway",
	fx.Provide(newRegistry),
)
