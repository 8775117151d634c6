package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// balanceCacheTTL 限定跨进程的最大陈旧度；进程内一致性由 Invalidate 保证
const balanceCacheTTL = 30 * time.Second

type balanceCache struct {
	data *Data
	log  *log.Helper
}

// NewBalanceCache 创建余额快照缓存；没有配置 Redis 时退化为永不命中
func NewBalanceCache(data *Data, logger log.Logger) domain.BalanceCache {
	return &balanceCache{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func balanceCacheKey(ownerID string) string {
	return fmt.Sprintf("billing:balance:%s", ownerID)
}

func (c *balanceCache) Get(ctx context.Context, ownerID string) (*domain.BalanceSnapshot, error) {
	if c.data.redis == nil {
		return nil, nil
	}
	val, err := c.data.redis.Get(ctx, balanceCacheKey(ownerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.BalanceSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		// 坏数据当作未命中，下次 Set 覆盖
		c.log.WithContext(ctx).Warnf("corrupt balance snapshot for %s: %v", ownerID, err)
		return nil, nil
	}
	return &snap, nil
}

func (c *balanceCache) Set(ctx context.Context, ownerID string, snap *domain.BalanceSnapshot) error {
	if c.data.redis == nil {
		return nil
	}
	val, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.data.redis.Set(ctx, balanceCacheKey(ownerID), val, balanceCacheTTL).Err()
}

func (c *balanceCache) Invalidate(ctx context.Context, ownerID string) error {
	if c.data.redis == nil {
		return nil
	}
	return c.data.redis.Del(ctx, balanceCacheKey(ownerID)).Err()
}
