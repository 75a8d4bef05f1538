package financeentry

import (
	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	financedomain "github.com/faturo/faturo/internal/financeentry/domain"
	"github.com/faturo/faturo/internal/financeentry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("financeentry",
	fx.Provide(
		service.NewService,
		func(s *service.Service) financedomain.Service { return s },
		func(s *service.Service) billingdomain.LedgerWriter { return s },
	),
)
