package model

import "errors"

// ErrSaleNotFound is returned by sale stores when the linked sale record
// does not exist. The ledger treats the sale as best-effort mirrored state,
// so callers usually turn this into a no-op.
var ErrSaleNotFound = errors.New("sale not found")

// Payment methods that appear in a sale's payment split. A purchase recorded
// against the ledger starts life as a "credit" entry; as the allocator collects
// funds the credit entry shrinks and a "balance" entry grows in its place.
const (
	PaymentMethodCredit  = "credit"
	PaymentMethodBalance = "balance"
	PaymentMethodCash    = "cash"
)

type Payment struct {
	Method string  `json:"method"`
	Amount float64 `json:"amount"`
}

// Sale is the externally-owned sale record this engine mirrors into. Only the
// payment split and the paid flag are ever written from here; everything else
// about a sale belongs to the sale collaborator.
type Sale struct {
	ID       string    `json:"id"`
	Payments []Payment `json:"payments"`
	IsPaid   bool      `json:"is_paid"`
}

// CreditOutstanding returns the sum of positive credit-method entries.
func (s *Sale) CreditOutstanding() float64 {
	var total float64
	for _, p := range s.Payments {
		if p.Method == PaymentMethodCredit && p.Amount > 0 {
			total += p.Amount
		}
	}
	return total
}
