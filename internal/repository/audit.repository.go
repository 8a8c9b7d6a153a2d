package repository

import (
	"context"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/pkg/pg"
)

type AuditRepository struct {
	*pg.DB
}

func NewAuditRepository(db *pg.DB) *AuditRepository {
	return &AuditRepository{
		db,
	}
}

func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditEntry) (*model.AuditEntry, error) {
	entity := toAuditEntity(entry)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toAuditModel(entity), nil
}

func (r *AuditRepository) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entities []*AuditEntryEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	models := make([]*model.AuditEntry, len(entities))
	for i, e := range entities {
		models[i] = toAuditModel(e)
	}
	return models, nil
}
