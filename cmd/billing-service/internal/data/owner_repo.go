package data

import (
	"context"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

type ownerRepo struct {
	data *Data
	log  *log.Helper
}

// NewOwnerRepository 创建记账主体仓储
func NewOwnerRepository(data *Data, logger log.Logger) domain.OwnerRepository {
	return &ownerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// FindOrCreateOwner 确保 owner 存在；首次出现时建档
func (r *ownerRepo) FindOrCreateOwner(ctx context.Context, ownerID string) (*domain.OwnerAccount, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	owner := &domain.OwnerAccount{ID: ownerID}
	err := r.data.db.WithContext(ctx).
		Where("id = ?", ownerID).
		FirstOrCreate(owner).Error
	if err != nil {
		return nil, storageErr("find or create owner", err)
	}
	return owner, nil
}
