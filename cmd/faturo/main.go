package main

import (
	"github.com/faturo/faturo/internal/billing"
	"github.com/faturo/faturo/internal/charge"
	"github.com/faturo/faturo/internal/clock"
	"github.com/faturo/faturo/internal/config"
	"github.com/faturo/faturo/internal/financeentry"
	"github.com/faturo/faturo/internal/gateway"
	"github.com/faturo/faturo/internal/logger"
	"github.com/faturo/faturo/internal/metrics"
	"github.com/faturo/faturo/internal/migration"
	"github.com/faturo/faturo/internal/scheduler"
	"github.com/faturo/faturo/internal/server"
	"github.com/faturo/faturo/internal/webhook"
	"github.com/faturo/faturo/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		metrics.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,

		// Functional domains
		gateway.Module,
		billing.Module,
		charge.Module,
		financeentry.Module,
		webhook.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
