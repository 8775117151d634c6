package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis 创建 Redis 客户端并验证连通性
func NewRedis(conf *RedisConfig, logger log.Logger) (*redis.Client, error) {
	helper := log.NewHelper(logger)

	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect redis %s: %w", conf.Addr, err)
	}

	helper.Infof("redis connected: %s db=%d", conf.Addr, conf.DB)
	return client, nil
}
