package payment

import (
	"github.com/openledger/payline/internal/payment/adapters"
	"github.com/openledger/payline/internal/payment/adapters/bridge"
	"github.com/openledger/payline/internal/payment/adapters/offline"
	"github.com/openledger/payline/internal/payment/repository"
	"github.com/openledger/payline/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(offline.NewFactory(), bridge.NewFactory())
	}),
	fx.Provide(service.NewService),
)
