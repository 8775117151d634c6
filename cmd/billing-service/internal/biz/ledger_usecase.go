package biz

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// DefaultLotTTL 未指定有效期时批次的默认寿命
const DefaultLotTTL = 30 * 24 * time.Hour

// ownerLockStripes owner 锁的条带数；条带化使内存占用与 owner 基数无关
const ownerLockStripes = 256

// LedgerConfig 账本配置
type LedgerConfig struct {
	// DefaultLotTTL 新批次默认有效期，零值回落到 30 天
	DefaultLotTTL time.Duration
}

// LedgerUsecase 信用点账本。唯一允许修改批次余额的组件。
//
// 同一 owner 的“校验余额 + 扣减”必须可串行化，否则并发 Reserve 会基于同一份
// 过期余额双双通过校验造成透支。这里用条带化的 owner 锁串行化同一 owner 的
// 全部写路径，仓储层事务 + 行锁再兜底一层；跨 owner 的读操作不取锁。
type LedgerUsecase struct {
	lots   domain.CreditLotRepository
	owners domain.OwnerRepository
	cache  domain.BalanceCache
	clock  domain.Clock
	lotTTL time.Duration
	log    *log.Helper

	ownerLocks [ownerLockStripes]sync.Mutex
}

// NewLedgerUsecase 创建账本用例
func NewLedgerUsecase(
	lots domain.CreditLotRepository,
	owners domain.OwnerRepository,
	cache domain.BalanceCache,
	clock domain.Clock,
	conf *LedgerConfig,
	logger log.Logger,
) *LedgerUsecase {
	ttl := DefaultLotTTL
	if conf != nil && conf.DefaultLotTTL > 0 {
		ttl = conf.DefaultLotTTL
	}
	return &LedgerUsecase{
		lots:   lots,
		owners: owners,
		cache:  cache,
		clock:  clock,
		lotTTL: ttl,
		log:    log.NewHelper(logger),
	}
}

// ownerLock 返回 owner 所在条带的互斥锁。不同 owner 可能共享条带，
// 只影响并发度，不影响正确性。
func (uc *LedgerUsecase) ownerLock(ownerID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(ownerID))
	return &uc.ownerLocks[h.Sum32()%ownerLockStripes]
}

// invalidateBalance 在批次变更后丢弃缓存快照。删除失败只记日志，
// 跨进程陈旧度仍由缓存 TTL 兜底。
func (uc *LedgerUsecase) invalidateBalance(ctx context.Context, ownerID string) {
	if err := uc.cache.Invalidate(ctx, ownerID); err != nil {
		uc.log.WithContext(ctx).Warnf("balance cache invalidation failed for %s: %v", ownerID, err)
	}
}

// Balance 查询余额：未过期且未耗尽批次的剩余信用点之和，批次按到期时间升序。
// 未知 owner 不报错，余额为 0。读穿缓存：快照在每次批次变更时失效。
func (uc *LedgerUsecase) Balance(ctx context.Context, ownerID string) (int, []domain.LotSummary, error) {
	if ownerID == "" {
		return 0, nil, domain.ErrInvalidArgument
	}

	if snap, err := uc.cache.Get(ctx, ownerID); err != nil {
		uc.log.WithContext(ctx).Warnf("balance cache read failed for %s: %v", ownerID, err)
	} else if snap != nil {
		return snap.Balance, snap.Lots, nil
	}

	lots, err := uc.lots.ListLive(ctx, ownerID, uc.clock.Now())
	if err != nil {
		return 0, nil, err
	}
	total := 0
	summaries := make([]domain.LotSummary, 0, len(lots))
	for _, lot := range lots {
		total += lot.RemainingCredits
		summaries = append(summaries, lot.Summary())
	}

	if err := uc.cache.Set(ctx, ownerID, &domain.BalanceSnapshot{Balance: total, Lots: summaries}); err != nil {
		uc.log.WithContext(ctx).Warnf("balance cache write failed for %s: %v", ownerID, err)
	}
	return total, summaries, nil
}

// HasSufficient 余额是否足以覆盖 required，与 Balance 使用同一套过滤条件
func (uc *LedgerUsecase) HasSufficient(ctx context.Context, ownerID string, required int) (bool, error) {
	if required < 0 {
		return false, domain.ErrInvalidArgument
	}
	total, _, err := uc.Balance(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return required <= total, nil
}

// Allocate 发放一个新批次。credits 为 0 合法（审计占位批次），负数拒绝。
// ttl <= 0 时使用默认有效期。
func (uc *LedgerUsecase) Allocate(
	ctx context.Context,
	ownerID string,
	credits int,
	grantedBy string,
	ttl time.Duration,
	notes string,
) (*domain.CreditLot, error) {
	if ownerID == "" || credits < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := uc.owners.FindOrCreateOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOwnerUnavailable, err)
	}

	lock := uc.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return uc.allocateLocked(ctx, ownerID, credits, grantedBy, ttl, notes)
}

// allocateLocked 持有 owner 锁时的发放实现
func (uc *LedgerUsecase) allocateLocked(
	ctx context.Context,
	ownerID string,
	credits int,
	grantedBy string,
	ttl time.Duration,
	notes string,
) (*domain.CreditLot, error) {
	if ttl <= 0 {
		ttl = uc.lotTTL
	}
	now := uc.clock.Now()
	lot := &domain.CreditLot{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		TotalCredits:     credits,
		RemainingCredits: credits,
		GrantedBy:        grantedBy,
		GrantedAt:        now,
		ExpiresAt:        now.Add(ttl),
		Notes:            notes,
	}
	if err := uc.lots.Create(ctx, lot); err != nil {
		return nil, err
	}
	uc.invalidateBalance(ctx, ownerID)

	creditsAllocatedTotal.WithLabelValues(grantedBy).Add(float64(credits))
	uc.log.WithContext(ctx).Infof("allocated %d credits to %s, lot %s, expires %s",
		credits, ownerID, lot.ID, lot.ExpiresAt.Format(time.RFC3339))
	return lot, nil
}

// Deduct 按到期先后顺序扣减信用点，最先到期的批次先消费。
//
// 兼容行为：余额不足时返回 false，但已扣减的部分不回滚（调用方应先走
// HasSufficient 或直接使用 TryDeduct）。批次遍历整体在一个事务内执行。
func (uc *LedgerUsecase) Deduct(ctx context.Context, ownerID string, credits int) (bool, error) {
	if ownerID == "" || credits < 0 {
		return false, domain.ErrInvalidArgument
	}
	if credits == 0 {
		return true, nil
	}

	lock := uc.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	deducted, err := uc.lots.DeductOrdered(ctx, ownerID, credits, uc.clock.Now())
	if err != nil {
		return false, err
	}
	if deducted > 0 {
		uc.invalidateBalance(ctx, ownerID)
	}
	creditsDeductedTotal.Add(float64(deducted))
	if deducted < credits {
		deductShortfallTotal.Inc()
		uc.log.WithContext(ctx).Warnf("partial deduction for %s: wanted %d, drained %d",
			ownerID, credits, deducted)
		return false, nil
	}
	return true, nil
}

// TryDeduct 原子的“校验+扣减”。余额不足返回 ErrInsufficientCredits 且账本
// 不产生任何变更。Reserve 与 Adjust 的扣减路径都走这里。
func (uc *LedgerUsecase) TryDeduct(ctx context.Context, ownerID string, credits int) error {
	if ownerID == "" || credits < 0 {
		return domain.ErrInvalidArgument
	}
	if credits == 0 {
		return nil
	}

	lock := uc.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return uc.tryDeductLocked(ctx, ownerID, credits)
}

func (uc *LedgerUsecase) tryDeductLocked(ctx context.Context, ownerID string, credits int) error {
	if err := uc.lots.TryDeduct(ctx, ownerID, credits, uc.clock.Now()); err != nil {
		return err
	}
	uc.invalidateBalance(ctx, ownerID)
	creditsDeductedTotal.Add(float64(credits))
	return nil
}

// SetAbsolute 管理员绝对设值：删除 owner 的全部批次（含已过期）并发放一个
// 新批次。破坏性操作，仅用于余额修正。
func (uc *LedgerUsecase) SetAbsolute(
	ctx context.Context,
	ownerID string,
	credits int,
	setBy string,
	ttl time.Duration,
	notes string,
) (*domain.CreditLot, error) {
	if ownerID == "" || credits < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := uc.owners.FindOrCreateOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOwnerUnavailable, err)
	}
	if ttl <= 0 {
		ttl = uc.lotTTL
	}

	lock := uc.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	now := uc.clock.Now()
	fresh := &domain.CreditLot{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		TotalCredits:     credits,
		RemainingCredits: credits,
		GrantedBy:        setBy,
		GrantedAt:        now,
		ExpiresAt:        now.Add(ttl),
		Notes:            notes,
	}
	if err := uc.lots.ReplaceAll(ctx, ownerID, fresh); err != nil {
		return nil, err
	}
	uc.invalidateBalance(ctx, ownerID)

	creditsAllocatedTotal.WithLabelValues(setBy).Add(float64(credits))
	uc.log.WithContext(ctx).Infof("absolute set for %s: %d credits by %s", ownerID, credits, setBy)
	return fresh, nil
}

// Adjust 差量调整：delta > 0 发放，delta < 0 全量扣减，delta = 0 拒绝。
// 调整后余额不得为负，违反时不产生任何变更。
func (uc *LedgerUsecase) Adjust(
	ctx context.Context,
	ownerID string,
	delta int,
	adjustedBy string,
	ttl time.Duration,
	notes string,
) (previous int, current int, err error) {
	if ownerID == "" || delta == 0 {
		return 0, 0, domain.ErrInvalidArgument
	}
	if delta > 0 {
		if _, err := uc.owners.FindOrCreateOwner(ctx, ownerID); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", domain.ErrOwnerUnavailable, err)
		}
	}

	lock := uc.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	previous, _, err = uc.Balance(ctx, ownerID)
	if err != nil {
		return 0, 0, err
	}
	if previous+delta < 0 {
		return previous, previous, domain.ErrInsufficientCredits
	}

	if delta > 0 {
		if _, err = uc.allocateLocked(ctx, ownerID, delta, adjustedBy, ttl, notes); err != nil {
			return previous, previous, err
		}
	} else {
		if err = uc.tryDeductLocked(ctx, ownerID, -delta); err != nil {
			return previous, previous, err
		}
	}

	current, _, err = uc.Balance(ctx, ownerID)
	if err != nil {
		return previous, previous, err
	}
	uc.log.WithContext(ctx).Infof("adjusted %s by %+d (%s): %d -> %d",
		ownerID, delta, adjustedBy, previous, current)
	return previous, current, nil
}
