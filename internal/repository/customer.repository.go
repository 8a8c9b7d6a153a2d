package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrVersionConflict means another writer updated the customer between our
	// read and write. The whole read-allocate-write cycle must be rerun; the
	// stale write is never applied.
	ErrVersionConflict = errors.New("customer version conflict")
	// ErrStoreUnavailable marks a transient store failure worth retrying.
	ErrStoreUnavailable = errors.New("store temporarily unavailable")
)

// IsTransient classifies store errors the retry layer may re-attempt.
// Validation and not-found errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "too many connections")
}

type CustomerRepository struct {
	*pg.DB
}

func NewCustomerRepository(db *pg.DB) *CustomerRepository {
	return &CustomerRepository{
		db,
	}
}

func (r *CustomerRepository) Create(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	entity := toCustomerEntity(c)
	entity.Version = 1
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toCustomerModel(entity), nil
}

// Get returns the customer, excluding soft-deleted rows.
func (r *CustomerRepository) Get(ctx context.Context, id int64) (*model.Customer, error) {
	var entity CustomerEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return toCustomerModel(&entity), nil
}

// Update writes the customer guarded by its optimistic-lock version. The
// caller passes the version it read; a mismatch yields ErrVersionConflict.
func (r *CustomerRepository) Update(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&CustomerEntity{}).
		Where("id = ? AND version = ? AND deleted_at IS NULL", c.ID, c.Version).
		Updates(map[string]interface{}{
			"name":            c.Name,
			"initial_balance": c.InitialBalance,
			"credit_limit":    c.CreditLimit,
			"version":         c.Version + 1,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.checkUpdateFailureReason(ctx, c.ID)
	}

	updated := *c
	updated.Version = c.Version + 1
	return &updated, nil
}

// checkUpdateFailureReason distinguishes a missing customer from a lost race.
func (r *CustomerRepository) checkUpdateFailureReason(ctx context.Context, id int64) error {
	var entity CustomerEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCustomerNotFound
		}
		return err
	}
	return ErrVersionConflict
}

// List returns all customers that have not been soft-deleted.
func (r *CustomerRepository) List(ctx context.Context) ([]*model.Customer, error) {
	var entities []*CustomerEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("deleted_at IS NULL").
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toCustomerModels(entities), nil
}

// SoftDelete marks the customer deleted. Transactions are retained for audit.
func (r *CustomerRepository) SoftDelete(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result := r.Write(ctx).WithContext(ctx).
		Model(&CustomerEntity{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCustomerNotFound
	}
	return nil
}
