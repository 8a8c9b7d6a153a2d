package repository

import (
	"time"

	"github.com/cantina/credit-ledger/internal/model"
)

type AuditEntryEntity struct {
	ID         int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	PaymentID  string    `db:"payment_id"  gorm:"column:payment_id;not null;uniqueIndex"`
	CustomerID int64     `db:"customer_id" gorm:"column:customer_id;not null;index"`
	ActorID    string    `db:"actor_id"    gorm:"column:actor_id"`
	Amount     float64   `db:"amount"      gorm:"column:amount;not null"`
	Method     string    `db:"method"      gorm:"column:method"`
	OccurredAt time.Time `db:"occurred_at" gorm:"column:occurred_at"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (AuditEntryEntity) TableName() string {
	return "audit_log"
}

func toAuditEntity(m *model.AuditEntry) *AuditEntryEntity {
	if m == nil {
		return nil
	}
	return &AuditEntryEntity{
		ID:         m.ID,
		PaymentID:  m.PaymentID,
		CustomerID: m.CustomerID,
		ActorID:    m.ActorID,
		Amount:     m.Amount,
		Method:     m.Method,
		OccurredAt: m.OccurredAt,
		CreatedAt:  m.CreatedAt,
	}
}

func toAuditModel(e *AuditEntryEntity) *model.AuditEntry {
	if e == nil {
		return nil
	}
	return &model.AuditEntry{
		ID:         e.ID,
		PaymentID:  e.PaymentID,
		CustomerID: e.CustomerID,
		ActorID:    e.ActorID,
		Amount:     e.Amount,
		Method:     e.Method,
		OccurredAt: e.OccurredAt,
		CreatedAt:  e.CreatedAt,
	}
}
