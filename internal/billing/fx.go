package billing

import (
	"github.com/faturo/faturo/internal/billing/service"
	"github.com/faturo/faturo/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

func newBillingConfig(cfg config.Config) service.BillingConfig {
	return service.BillingConfig{
		HorizonMonths:      cfg.Billing.HorizonMonths,
		GraceDays:          cfg.Billing.GraceDays,
		MonthlyInterestPct: decimal.NewFromFloat(cfg.Billing.MonthlyInterestPct),
		FinePct:            decimal.NewFromFloat(cfg.Billing.FinePct),
	}
}

var Module = fx.Module("billing.service",
	fx.Provide(newBillingConfig),
	fx.Provide(service.NewService),
)
