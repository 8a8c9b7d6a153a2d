package model

import "time"

type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPurchase   TransactionType = "purchase"
	TransactionRefund     TransactionType = "refund"
)

// Transaction is one money-in/money-out event on a customer's ledger.
// Amount is always a positive magnitude; the direction is implied by Type.
// Rows are immutable after creation except AmountPaid on purchases, which
// the allocator and the reconciler rewrite as funds arrive.
type Transaction struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"customer_id"`
	Type          TransactionType `json:"type"`
	Amount        float64         `json:"amount"`
	AmountPaid    float64         `json:"amount_paid"`
	SaleID        *string         `json:"sale_id,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (Transaction) TableName() string { return "customer_transactions" }

// Unpaid reports whether a purchase still has an uncollected remainder.
func (t *Transaction) Unpaid() bool {
	return t.Type == TransactionPurchase && t.AmountPaid < t.Amount
}

type TransactionFilter struct {
	CustomerID *int64
	Type       *TransactionType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
	Desc       bool
}

// TransactionWithBalance is a history entry: the transaction plus the
// customer's running balance immediately after it was recorded.
type TransactionWithBalance struct {
	*Transaction
	Balance float64 `json:"balance"`
}
