package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/openledger/payline/internal/apikey"
	"github.com/openledger/payline/internal/audit"
	"github.com/openledger/payline/internal/authorization"
	"github.com/openledger/payline/internal/clock"
	"github.com/openledger/payline/internal/config"
	"github.com/openledger/payline/internal/events"
	"github.com/openledger/payline/internal/ledger"
	"github.com/openledger/payline/internal/migration"
	"github.com/openledger/payline/internal/observability/logger"
	"github.com/openledger/payline/internal/observability/tracing"
	"github.com/openledger/payline/internal/payment"
	"github.com/openledger/payline/internal/scheduler"
	"github.com/openledger/payline/internal/seed"
	"github.com/openledger/payline/internal/server"
	"github.com/openledger/payline/internal/settings"
	"github.com/openledger/payline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) error {
			_, err := tracing.NewProvider(lc, tracing.Config{
				Enabled:          cfg.Tracing.Enabled,
				ServiceName:      cfg.Tracing.ServiceName,
				ServiceVersion:   version,
				Environment:      cfg.App.Env,
				ExporterEndpoint: cfg.Tracing.Endpoint,
				ExporterProtocol: cfg.Tracing.Protocol,
				SamplingRatio:    cfg.Tracing.SampleRatio,
			}, log)
			return err
		}),
		fx.Invoke(func(conn *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			return seed.EnsureMainOrg(conn, node, log)
		}),
		fx.Provide(events.NewOutbox),
		authorization.Module,
		apikey.Module,
		audit.Module,
		ledger.Module,
		payment.Module,
		settings.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}
