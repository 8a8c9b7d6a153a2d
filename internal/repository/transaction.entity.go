package repository

import (
	"time"

	"github.com/cantina/credit-ledger/internal/model"
)

type TransactionEntity struct {
	ID            int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	CustomerID    int64     `db:"customer_id"    gorm:"column:customer_id;not null;index"`
	Type          string    `db:"type"           gorm:"column:type;not null"`
	Amount        float64   `db:"amount"         gorm:"column:amount;not null"`
	AmountPaid    float64   `db:"amount_paid"    gorm:"column:amount_paid;not null;default:0"`
	SaleID        *string   `db:"sale_id"        gorm:"column:sale_id;index"`
	PaymentMethod string    `db:"payment_method" gorm:"column:payment_method"`
	Description   string    `db:"description"    gorm:"column:description"`
	CreatedBy     string    `db:"created_by"     gorm:"column:created_by"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;index"`
}

func (TransactionEntity) TableName() string {
	return "customer_transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		Type:          string(m.Type),
		Amount:        m.Amount,
		AmountPaid:    m.AmountPaid,
		SaleID:        m.SaleID,
		PaymentMethod: m.PaymentMethod,
		Description:   m.Description,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:            e.ID,
		CustomerID:    e.CustomerID,
		Type:          model.TransactionType(e.Type),
		Amount:        e.Amount,
		AmountPaid:    e.AmountPaid,
		SaleID:        e.SaleID,
		PaymentMethod: e.PaymentMethod,
		Description:   e.Description,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
