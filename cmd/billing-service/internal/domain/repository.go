package domain

import (
	"context"
	"time"
)

// CreditLotRepository 批次仓储接口，账本是唯一允许修改批次余额的组件
type CreditLotRepository interface {
	// Create 新建一个批次
	Create(ctx context.Context, lot *CreditLot) error

	// ListLive 返回指定 owner 所有未过期且未耗尽的批次，按 ExpiresAt 升序
	ListLive(ctx context.Context, ownerID string, now time.Time) ([]*CreditLot, error)

	// DeductOrdered 按到期先后顺序扣减批次，最先到期的先消费。
	// 余额不足时已扣减的部分不回滚（兼容行为），返回实际扣减数。
	// 整个批次遍历在一个事务内完成。
	DeductOrdered(ctx context.Context, ownerID string, credits int, now time.Time) (int, error)

	// TryDeduct 原子的“校验+扣减”：余额不足返回 ErrInsufficientCredits 且不产生
	// 任何变更，否则在一个事务内完成全部批次扣减。
	TryDeduct(ctx context.Context, ownerID string, credits int, now time.Time) error

	// ReplaceAll 删除 owner 的全部批次（含已过期）并写入一个新批次
	ReplaceAll(ctx context.Context, ownerID string, fresh *CreditLot) error
}

// ReservationRepository 预留仓储接口
type ReservationRepository interface {
	// Create 新建预留；sessionID 冲突返回 ErrReservationExists
	Create(ctx context.Context, r *Reservation) error

	// GetBySession 按 sessionID 查询；不存在返回 ErrReservationNotFound
	GetBySession(ctx context.Context, sessionID string) (*Reservation, error)

	// GetActive 查询 (sessionID, ownerID) 的 Active 预留；
	// 不存在或已关闭返回 ErrReservationNotFound
	GetActive(ctx context.Context, sessionID, ownerID string) (*Reservation, error)

	// Close 以 CAS 方式关闭预留：仅当仍为 Active 时写入终态。
	// 返回 false 表示已被并发关闭。
	Close(ctx context.Context, sessionID string, state ReservationState, usedCredits int, closedAt time.Time) (bool, error)

	// ListActiveByOwner 指定 owner 的 Active 预留，StartedAt 降序
	ListActiveByOwner(ctx context.Context, ownerID string, limit int) ([]*Reservation, error)

	// ListActive 全局 Active 预留，StartedAt 降序
	ListActive(ctx context.Context, limit int) ([]*Reservation, error)

	// ListClosedSince 在 since 之后关闭的预留，ClosedAt 降序；ownerID 为空表示全局
	ListClosedSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]*Reservation, error)

	// ListStaleActive 在 cutoff 之前启动且仍为 Active 的预留
	ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]*Reservation, error)
}

// BalanceCache 余额快照缓存。尽力而为：读失败退回数据库，写失败只影响命中率。
// 账本必须在每次批次变更后调用 Invalidate，保证本进程内不读到变更前的快照。
type BalanceCache interface {
	// Get 读取快照；未命中返回 (nil, nil)
	Get(ctx context.Context, ownerID string) (*BalanceSnapshot, error)

	// Set 写入快照
	Set(ctx context.Context, ownerID string, snap *BalanceSnapshot) error

	// Invalidate 删除快照
	Invalidate(ctx context.Context, ownerID string) error
}

// UsageRecorder 使用量记录协作方。尽力而为：失败不得回滚结算。
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec *UsageRecord) error
}

// OwnerRepository 记账主体供给协作方
type OwnerRepository interface {
	// FindOrCreateOwner 确保 owner 是合法的记账主体
	FindOrCreateOwner(ctx context.Context, ownerID string) (*OwnerAccount, error)
}
