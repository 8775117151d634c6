package biz

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func newTestLedger(clock domain.Clock, conf *LedgerConfig) (*LedgerUsecase, *memLotRepo) {
	lots := newMemLotRepo()
	uc := NewLedgerUsecase(lots, newMemOwnerRepo(), newMemBalanceCache(), clock, conf, log.NewStdLogger(io.Discard))
	return uc, lots
}

func TestLedgerBalance_UnknownOwner(t *testing.T) {
	uc, _ := newTestLedger(newFakeClock(), nil)

	// 未知 owner 不报错，余额为 0
	total, summaries, err := uc.Balance(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, summaries)
}

func TestLedgerAllocate_AndBalance(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	lot, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "signup bonus")
	assert.NoError(t, err)
	assert.Equal(t, 100, lot.RemainingCredits)
	assert.NotEmpty(t, lot.ID)

	total, summaries, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 100, total)
	assert.Len(t, summaries, 1)
	assert.Equal(t, "admin", summaries[0].GrantedBy)
}

func TestLedgerAllocate_ZeroCreditsIsLegal(t *testing.T) {
	ctx := context.Background()
	uc, lots := newTestLedger(newFakeClock(), nil)

	// 0 信用点批次合法（审计占位），但不计入可用余额
	_, err := uc.Allocate(ctx, "user-1", 0, "admin", 0, "audit marker")
	assert.NoError(t, err)
	assert.Equal(t, 1, lots.lotCount("user-1"))

	total, summaries, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, summaries)
}

func TestLedgerAllocate_Invalid(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", -5, "admin", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = uc.Allocate(ctx, "", 5, "admin", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLedgerAllocate_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	uc, _ := newTestLedger(clock, nil)

	lot, err := uc.Allocate(ctx, "user-1", 10, "admin", 0, "")
	assert.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultLotTTL), lot.ExpiresAt)
}

func TestLedgerDeduct_ExpiryOrder(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	uc, _ := newTestLedger(clock, nil)

	// 先发的批次反而更晚到期，验证消费顺序看到期时间而不是发放时间
	_, err := uc.Allocate(ctx, "user-1", 150, "admin", 48*time.Hour, "late lot")
	assert.NoError(t, err)
	_, err = uc.Allocate(ctx, "user-1", 50, "admin", 24*time.Hour, "early lot")
	assert.NoError(t, err)

	ok, err := uc.Deduct(ctx, "user-1", 70)
	assert.NoError(t, err)
	assert.True(t, ok)

	// 最先到期的 50 被耗尽，其余 20 从 150 的批次扣
	total, summaries, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 130, total)
	assert.Len(t, summaries, 1)
	assert.Equal(t, 130, summaries[0].Remaining)
}

func TestLedgerDeduct_PartialDrain(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", 30, "admin", time.Hour, "")
	assert.NoError(t, err)

	// 余额不足时返回 false，已扣部分不回滚
	ok, err := uc.Deduct(ctx, "user-1", 50)
	assert.NoError(t, err)
	assert.False(t, ok)

	total, _, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestLedgerDeduct_IgnoresExpiredLots(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	uc, _ := newTestLedger(clock, nil)

	_, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "")
	assert.NoError(t, err)

	clock.Advance(2 * time.Hour)

	// 过期批次对余额和扣减都不可见
	total, _, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, total)

	ok, err := uc.Deduct(ctx, "user-1", 1)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerTryDeduct_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", 30, "admin", time.Hour, "")
	assert.NoError(t, err)

	// 不足时报错且账本不产生任何变更
	err = uc.TryDeduct(ctx, "user-1", 50)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	total, _, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 30, total)

	// 足额时正常扣减
	err = uc.TryDeduct(ctx, "user-1", 30)
	assert.NoError(t, err)

	total, _, err = uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestLedgerHasSufficient(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", 10, "admin", time.Hour, "")
	assert.NoError(t, err)

	ok, err := uc.HasSufficient(ctx, "user-1", 10)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = uc.HasSufficient(ctx, "user-1", 11)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = uc.HasSufficient(ctx, "user-1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLedgerSetAbsolute(t *testing.T) {
	ctx := context.Background()
	uc, lots := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "")
	assert.NoError(t, err)
	_, err = uc.Allocate(ctx, "user-1", 200, "admin", 2*time.Hour, "")
	assert.NoError(t, err)

	// 绝对设值清空全部批次，只留新发的一个
	fresh, err := uc.SetAbsolute(ctx, "user-1", 500, "ops", 0, "balance correction")
	assert.NoError(t, err)
	assert.Equal(t, 500, fresh.RemainingCredits)
	assert.Equal(t, 1, lots.lotCount("user-1"))

	total, _, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 500, total)
}

func TestLedgerAdjust_PositiveDelta(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "")
	assert.NoError(t, err)

	previous, current, err := uc.Adjust(ctx, "user-1", 50, "ops", 0, "goodwill")
	assert.NoError(t, err)
	assert.Equal(t, 100, previous)
	assert.Equal(t, 150, current)
}

func TestLedgerAdjust_NegativeDelta(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "")
	assert.NoError(t, err)

	previous, current, err := uc.Adjust(ctx, "user-1", -40, "ops", 0, "chargeback")
	assert.NoError(t, err)
	assert.Equal(t, 100, previous)
	assert.Equal(t, 60, current)
}

func TestLedgerBalance_CacheReadThrough(t *testing.T) {
	ctx := context.Background()
	lots := newMemLotRepo()
	cache := newMemBalanceCache()
	uc := NewLedgerUsecase(lots, newMemOwnerRepo(), cache, newFakeClock(), nil, log.NewStdLogger(io.Discard))

	_, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "")
	assert.NoError(t, err)

	// 第一次查询落库并写快照
	total, _, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 100, total)
	assert.True(t, cache.cached("user-1"))

	// 第二次查询命中快照，不再读库
	reads := lots.listCallCount()
	total, _, err = uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 100, total)
	assert.Equal(t, reads, lots.listCallCount())
}

func TestLedgerBalance_CacheInvalidatedOnMutation(t *testing.T) {
	ctx := context.Background()
	lots := newMemLotRepo()
	cache := newMemBalanceCache()
	uc := NewLedgerUsecase(lots, newMemOwnerRepo(), cache, newFakeClock(), nil, log.NewStdLogger(io.Discard))

	_, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "")
	assert.NoError(t, err)

	total, _, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 100, total)

	// 每条变更路径都必须丢弃快照，余额永远不落后于本进程的最新变更
	ok, err := uc.Deduct(ctx, "user-1", 40)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, cache.cached("user-1"))

	total, _, err = uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 60, total)

	assert.NoError(t, uc.TryDeduct(ctx, "user-1", 10))
	total, _, err = uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 50, total)

	_, err = uc.Allocate(ctx, "user-1", 25, "admin", time.Hour, "")
	assert.NoError(t, err)
	total, _, err = uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 75, total)

	_, err = uc.SetAbsolute(ctx, "user-1", 500, "ops", 0, "")
	assert.NoError(t, err)
	total, _, err = uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 500, total)
}

func TestLedger_ManyOwnersConcurrent(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	// 大量 owner 并发读写，条带锁下每个账本仍各自守恒
	const owners = 64
	var wg sync.WaitGroup
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ownerID := fmt.Sprintf("owner-%d", i)
			_, err := uc.Allocate(ctx, ownerID, 100, "admin", time.Hour, "")
			assert.NoError(t, err)
			assert.NoError(t, uc.TryDeduct(ctx, ownerID, 30))
		}(i)
	}
	wg.Wait()

	for i := 0; i < owners; i++ {
		total, _, err := uc.Balance(ctx, fmt.Sprintf("owner-%d", i))
		assert.NoError(t, err)
		assert.Equal(t, 70, total)
	}
}

func TestLedgerAdjust_Rejections(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestLedger(newFakeClock(), nil)

	_, err := uc.Allocate(ctx, "user-1", 100, "admin", time.Hour, "")
	assert.NoError(t, err)

	// 零差量无意义
	_, _, err = uc.Adjust(ctx, "user-1", 0, "ops", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	// 扣到负数拒绝，且余额不变
	_, _, err = uc.Adjust(ctx, "user-1", -200, "ops", 0, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	total, _, err := uc.Balance(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 100, total)
}
