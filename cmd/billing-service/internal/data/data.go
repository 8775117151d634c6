package data

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Data 数据访问层资源集合
type Data struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewData 创建 Data 实例及资源清理函数
func NewData(db *gorm.DB, rdb *redis.Client, logger log.Logger) (*Data, func(), error) {
	cleanup := func() {
		helper := log.NewHelper(logger)
		helper.Info("closing the data resources")

		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		if rdb != nil {
			rdb.Close()
		}
	}
	return &Data{
		db:    db,
		redis: rdb,
	}, cleanup, nil
}
