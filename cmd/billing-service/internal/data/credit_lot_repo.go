package data

import (
	"context"
	"fmt"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type creditLotRepo struct {
	data *Data
	log  *log.Helper
}

// NewCreditLotRepository 创建批次仓储
func NewCreditLotRepository(data *Data, logger log.Logger) domain.CreditLotRepository {
	return &creditLotRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *creditLotRepo) Create(ctx context.Context, lot *domain.CreditLot) error {
	if err := r.data.db.WithContext(ctx).Create(lot).Error; err != nil {
		return storageErr("create credit lot", err)
	}
	return nil
}

func (r *creditLotRepo) ListLive(ctx context.Context, ownerID string, now time.Time) ([]*domain.CreditLot, error) {
	var lots []*domain.CreditLot
	err := r.data.db.WithContext(ctx).
		Where("owner_id = ? AND expires_at > ? AND remaining_credits > 0", ownerID, now).
		Order("expires_at ASC").
		Find(&lots).Error
	if err != nil {
		return nil, storageErr("list live lots", err)
	}
	return lots, nil
}

// DeductOrdered 兼容行为的扣减：按到期先后遍历批次，能扣多少扣多少。
// 整个遍历在一个事务内，批次行加 FOR UPDATE 锁。
func (r *creditLotRepo) DeductOrdered(ctx context.Context, ownerID string, credits int, now time.Time) (int, error) {
	deducted := 0
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lots, err := lockLiveLots(tx, ownerID, now)
		if err != nil {
			return err
		}
		remaining := credits
		for _, lot := range lots {
			if remaining == 0 {
				break
			}
			take := lot.RemainingCredits
			if take > remaining {
				take = remaining
			}
			if err := drainLot(tx, lot.ID, take); err != nil {
				return err
			}
			remaining -= take
		}
		deducted = credits - remaining
		return nil
	})
	if err != nil {
		return 0, storageErr("deduct ordered", err)
	}
	return deducted, nil
}

// TryDeduct 原子的全量扣减：总量不足直接回滚，账本不产生任何变更
func (r *creditLotRepo) TryDeduct(ctx context.Context, ownerID string, credits int, now time.Time) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lots, err := lockLiveLots(tx, ownerID, now)
		if err != nil {
			return err
		}
		total := 0
		for _, lot := range lots {
			total += lot.RemainingCredits
		}
		if total < credits {
			return domain.ErrInsufficientCredits
		}
		remaining := credits
		for _, lot := range lots {
			if remaining == 0 {
				break
			}
			take := lot.RemainingCredits
			if take > remaining {
				take = remaining
			}
			if err := drainLot(tx, lot.ID, take); err != nil {
				return err
			}
			remaining -= take
		}
		return nil
	})
	if err == domain.ErrInsufficientCredits {
		return err
	}
	if err != nil {
		return storageErr("try deduct", err)
	}
	return nil
}

func (r *creditLotRepo) ReplaceAll(ctx context.Context, ownerID string, fresh *domain.CreditLot) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", ownerID).Delete(&domain.CreditLot{}).Error; err != nil {
			return err
		}
		return tx.Create(fresh).Error
	})
	if err != nil {
		return storageErr("replace lots", err)
	}
	return nil
}

// lockLiveLots 锁定并返回可消费批次，到期早的在前
func lockLiveLots(tx *gorm.DB, ownerID string, now time.Time) ([]*domain.CreditLot, error) {
	var lots []*domain.CreditLot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND expires_at > ? AND remaining_credits > 0", ownerID, now).
		Order("expires_at ASC").
		Find(&lots).Error
	return lots, err
}

func drainLot(tx *gorm.DB, lotID string, take int) error {
	return tx.Model(&domain.CreditLot{}).
		Where("id = ?", lotID).
		Update("remaining_credits", gorm.Expr("remaining_credits - ?", take)).Error
}

// storageErr 把持久层错误归一到 StorageUnavailable 类别
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}
