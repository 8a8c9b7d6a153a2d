package model

import "time"

type Customer struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	InitialBalance float64    `json:"initial_balance"`
	CreditLimit    *float64   `json:"credit_limit,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Version        int64      `json:"version"`
}

func (Customer) TableName() string { return "customers" }

// Deleted reports whether the customer has been soft-deleted. Soft-deleted
// customers keep their transactions for audit but are excluded from every
// balance and ledger operation.
func (c *Customer) Deleted() bool {
	return c.DeletedAt != nil
}

type CustomerCreateRequest struct {
	Name           string   `json:"name"`
	InitialBalance float64  `json:"initial_balance"`
	CreditLimit    *float64 `json:"credit_limit,omitempty"`
}

type CustomerUpdateRequest struct {
	Name           *string  `json:"name,omitempty"`
	InitialBalance *float64 `json:"initial_balance,omitempty"`
	CreditLimit    *float64 `json:"credit_limit,omitempty"`
	ClearLimit     bool     `json:"clear_limit,omitempty"`
}
