package data

import (
	"context"
	"errors"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type reservationRepo struct {
	data *Data
	log  *log.Helper
}

// NewReservationRepository 创建预留仓储
func NewReservationRepository(data *Data, logger log.Logger) domain.ReservationRepository {
	return &reservationRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *reservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	if err := r.data.db.WithContext(ctx).Create(res).Error; err != nil {
		// sessionID 是主键，重复创建说明同一会话已有预留
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrReservationExists
		}
		return storageErr("create reservation", err)
	}
	return nil
}

func (r *reservationRepo) GetBySession(ctx context.Context, sessionID string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := r.data.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, storageErr("get reservation", err)
	}
	return &res, nil
}

func (r *reservationRepo) GetActive(ctx context.Context, sessionID, ownerID string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := r.data.db.WithContext(ctx).
		Where("session_id = ? AND owner_id = ? AND state = ?", sessionID, ownerID, domain.ReservationActive).
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, storageErr("get active reservation", err)
	}
	return &res, nil
}

// Close CAS 关闭：只有仍为 Active 的行会被更新，RowsAffected 判定唯一赢家
func (r *reservationRepo) Close(
	ctx context.Context,
	sessionID string,
	state domain.ReservationState,
	usedCredits int,
	closedAt time.Time,
) (bool, error) {
	tx := r.data.db.WithContext(ctx).
		Model(&domain.Reservation{}).
		Where("session_id = ? AND state = ?", sessionID, domain.ReservationActive).
		Updates(map[string]interface{}{
			"state":        state,
			"used_credits": usedCredits,
			"closed_at":    closedAt,
		})
	if tx.Error != nil {
		return false, storageErr("close reservation", tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (r *reservationRepo) ListActiveByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	err := r.data.db.WithContext(ctx).
		Where("owner_id = ? AND state = ?", ownerID, domain.ReservationActive).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storageErr("list active by owner", err)
	}
	return out, nil
}

func (r *reservationRepo) ListActive(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	err := r.data.db.WithContext(ctx).
		Where("state = ?", domain.ReservationActive).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storageErr("list active", err)
	}
	return out, nil
}

func (r *reservationRepo) ListClosedSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]*domain.Reservation, error) {
	q := r.data.db.WithContext(ctx).
		Where("state <> ? AND closed_at >= ?", domain.ReservationActive, since)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var out []*domain.Reservation
	err := q.Order("closed_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, storageErr("list closed since", err)
	}
	return out, nil
}

func (r *reservationRepo) ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	err := r.data.db.WithContext(ctx).
		Where("state = ? AND started_at < ?", domain.ReservationActive, cutoff).
		Order("started_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storageErr("list stale active", err)
	}
	return out, nil
}
