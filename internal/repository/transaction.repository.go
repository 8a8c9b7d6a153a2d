package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/pkg/pg"
)

var (
	// ErrTransactionNotFound is returned when a transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

// ListByCustomer returns the customer's full history in allocation order:
// created_at ascending, ties broken by id so the FIFO walk is deterministic.
func (r *TransactionRepository) ListByCustomer(ctx context.Context, customerID int64) ([]*model.Transaction, error) {
	var entities []*TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC, id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransactionEntity{})

	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Type != nil && *f.Type != "" {
		q = q.Where("type = ?", string(*f.Type))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at ASC, id ASC"
	if f.Desc {
		order = "created_at DESC, id DESC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}

// UpdateAmountPaid rewrites the collected portion of a purchase. This is the
// only mutation ever applied to a stored transaction.
func (r *TransactionRepository) UpdateAmountPaid(ctx context.Context, id int64, amountPaid float64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ?", id).
		Update("amount_paid", amountPaid)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// Delete removes a transaction row. Not used by normal ledger operation;
// kept for administrative repair of duplicated writes.
func (r *TransactionRepository) Delete(ctx context.Context, id int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Where("id = ?", id).
		Delete(&TransactionEntity{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
