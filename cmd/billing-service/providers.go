package main

import (
	"time"

	"chatpilot/cmd/billing-service/internal/biz"
	"chatpilot/cmd/billing-service/internal/data"
	"chatpilot/cmd/billing-service/internal/domain"
	"chatpilot/cmd/billing-service/internal/server"
	"chatpilot/pkg/database"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

func provideDBConfig(cfg *Config) *database.Config {
	return &database.Config{
		Driver: cfg.Data.Database.Driver,
		Source: cfg.Data.Database.Source,
	}
}

func provideRedisConfig(cfg *Config) *data.RedisConfig {
	return &data.RedisConfig{
		Addr:     cfg.Data.Redis.Addr,
		Password: cfg.Data.Redis.Password,
		DB:       cfg.Data.Redis.DB,
	}
}

func provideKafkaConfig(cfg *Config) *data.KafkaConfig {
	return &data.KafkaConfig{
		Brokers: cfg.Data.Kafka.Brokers,
		Topic:   cfg.Data.Kafka.Topic,
	}
}

func provideHTTPConfig(cfg *Config) *server.HTTPConfig {
	return &server.HTTPConfig{Addr: cfg.Server.HTTP.Addr}
}

// providePricingRates 额外费率项，当前全部使用内置表
func providePricingRates() map[string]biz.ModelRate {
	return nil
}

func provideLedgerConfig(cfg *Config) *biz.LedgerConfig {
	return &biz.LedgerConfig{
		DefaultLotTTL: parseDuration(cfg.Billing.DefaultLotTTL),
	}
}

func provideReservationConfig(cfg *Config) *biz.ReservationConfig {
	return &biz.ReservationConfig{
		ReserveBufferPercent: cfg.Billing.ReserveBufferPercent,
	}
}

func provideSweeperConfig(cfg *Config) biz.SweeperConfig {
	return biz.SweeperConfig{
		StaleSessionTTL: parseDuration(cfg.Billing.StaleSessionTTL),
		SweepInterval:   parseDuration(cfg.Billing.SweepInterval),
	}
}

// provideSweeper 创建清扫器并把 Stop 挂到 wire 的清理链上
func provideSweeper(
	reservations domain.ReservationRepository,
	uc *biz.ReservationUsecase,
	rdb *redis.Client,
	clock domain.Clock,
	conf biz.SweeperConfig,
	logger log.Logger,
) (*biz.ReservationSweeper, func()) {
	s := biz.NewReservationSweeper(reservations, uc, rdb, clock, conf, logger)
	return s, s.Stop
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
