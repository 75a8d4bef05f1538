package charge

import (
	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	"github.com/faturo/faturo/internal/charge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charge",
	fx.Provide(
		service.NewService,
		func(s *service.Service) chargedomain.Service { return s },
		func(s *service.Service) billingdomain.ChargeCreator { return s },
	),
)
