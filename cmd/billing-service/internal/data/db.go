package data

import (
	"chatpilot/cmd/billing-service/internal/domain"
	"chatpilot/pkg/database"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// NewDB 创建数据库连接并迁移计费相关表
func NewDB(conf *database.Config, logger log.Logger) (*gorm.DB, error) {
	db, err := database.NewDB(conf, logger)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&domain.OwnerAccount{},
		&domain.CreditLot{},
		&domain.Reservation{},
		&domain.UsageRecord{},
	); err != nil {
		return nil, err
	}
	return db, nil
}
