//go:build wireinject
// +build wireinject

package main

import (
	"chatpilot/cmd/billing-service/internal/biz"
	"chatpilot/cmd/billing-service/internal/data"
	"chatpilot/cmd/billing-service/internal/domain"
	"chatpilot/cmd/billing-service/internal/server"
	"chatpilot/cmd/billing-service/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet 依赖注入集合
var ProviderSet = wire.NewSet(
	// Data层
	provideDBConfig,
	provideRedisConfig,
	provideKafkaConfig,
	data.NewDB,
	data.NewRedis,
	data.NewData,

	// Repository
	data.NewCreditLotRepository,
	data.NewReservationRepository,
	data.NewOwnerRepository,
	data.NewBalanceCache,
	data.NewUsageRecorder,

	// Domain
	domain.NewSystemClock,

	// Biz
	providePricingRates,
	provideLedgerConfig,
	provideReservationConfig,
	provideSweeperConfig,
	biz.NewPricingCalculator,
	biz.NewLedgerUsecase,
	biz.NewReservationUsecase,
	provideSweeper,

	// Service
	service.NewBillingService,

	// Server
	provideHTTPConfig,
	server.NewHTTPServer,
)

func wireApp(*Config, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		ProviderSet,
		newApp,
	))
}
