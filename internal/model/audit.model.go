package model

import "time"

// PaymentReceivedEvent is published to the audit stream whenever money is
// collected into a customer's ledger. Consumption is fire-and-observe: a
// failed publish never fails the ledger operation that produced it.
type PaymentReceivedEvent struct {
	PaymentID  string    `json:"payment_id"`
	CustomerID int64     `json:"customer_id"`
	ActorID    string    `json:"actor_id"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditEntry is the persisted form of an audit event.
type AuditEntry struct {
	ID         int64     `json:"id"`
	PaymentID  string    `json:"payment_id"`
	CustomerID int64     `json:"customer_id"`
	ActorID    string    `json:"actor_id"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AuditEntry) TableName() string { return "audit_log" }
