package services

import (
	"context"
	"errors"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/pkg/logger"
)

// SaleStore is the narrow contract against the external sale collaborator.
type SaleStore interface {
	Get(ctx context.Context, saleID string) (*model.Sale, error)
	UpdatePayments(ctx context.Context, saleID string, payments []model.Payment, isPaid bool) error
}

// SaleSync keeps a sale's payment split consistent with the amountPaid the
// allocator attributes to its purchase. Collected funds move from the sale's
// "credit" entry into a "balance" entry; the sale is paid once no positive
// credit entry remains. Entries for other methods (a cash portion paid at the
// counter, say) are never touched.
type SaleSync struct {
	sales SaleStore
}

func NewSaleSync(sales SaleStore) *SaleSync {
	return &SaleSync{sales: sales}
}

// Apply moves a delta of newly-collected funds into the sale's split. Used on
// the mutation path, where the allocator reports how much MORE of a purchase
// is now paid than was reflected before.
func (s *SaleSync) Apply(ctx context.Context, saleID string, amountNewlyPaid float64) error {
	if amountNewlyPaid <= 0 {
		return nil
	}

	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		if errors.Is(err, model.ErrSaleNotFound) {
			logger.Debug("sale missing, skipping payment sync", "sale_id", saleID)
			return nil
		}
		return err
	}

	credit := sale.CreditOutstanding()
	moved := amountNewlyPaid
	if moved > credit {
		moved = credit
	}

	payments := shiftCreditToBalance(sale.Payments, moved)
	isPaid := !hasPositiveCredit(payments)

	return s.sales.UpdatePayments(ctx, saleID, payments, isPaid)
}

// Set rewrites the sale's split so the settled portion equals amountPaid
// exactly. Used by the reconciler and by retried mutations: recomputing from
// the expected value avoids compounding a previously-applied delta.
func (s *SaleSync) Set(ctx context.Context, saleID string, amountPaid float64) error {
	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		if errors.Is(err, model.ErrSaleNotFound) {
			logger.Debug("sale missing, skipping payment sync", "sale_id", saleID)
			return nil
		}
		return err
	}

	// The ledger only governs the credit/balance portion of the split. Pool
	// those two back together, then re-split from the expected paid amount.
	var ledgerPortion float64
	var kept []model.Payment
	for _, p := range sale.Payments {
		if p.Method == model.PaymentMethodCredit || p.Method == model.PaymentMethodBalance {
			ledgerPortion += p.Amount
			continue
		}
		kept = append(kept, p)
	}

	settled := clamp(amountPaid, 0, ledgerPortion)
	if settled > epsilon {
		kept = append(kept, model.Payment{Method: model.PaymentMethodBalance, Amount: settled})
	}
	if remaining := ledgerPortion - settled; remaining > epsilon {
		kept = append(kept, model.Payment{Method: model.PaymentMethodCredit, Amount: remaining})
	}

	isPaid := !hasPositiveCredit(kept)
	return s.sales.UpdatePayments(ctx, saleID, kept, isPaid)
}

// shiftCreditToBalance reduces credit entries by amount and grows (or adds) a
// balance entry by the same amount, dropping credit entries that reach zero.
func shiftCreditToBalance(payments []model.Payment, amount float64) []model.Payment {
	var out []model.Payment
	remaining := amount
	balanceIdx := -1

	for _, p := range payments {
		switch p.Method {
		case model.PaymentMethodCredit:
			take := clamp(remaining, 0, p.Amount)
			remaining -= take
			if p.Amount-take > epsilon {
				out = append(out, model.Payment{Method: model.PaymentMethodCredit, Amount: p.Amount - take})
			}
		case model.PaymentMethodBalance:
			balanceIdx = len(out)
			out = append(out, p)
		default:
			out = append(out, p)
		}
	}

	if amount > 0 {
		if balanceIdx >= 0 {
			out[balanceIdx].Amount += amount
		} else {
			out = append(out, model.Payment{Method: model.PaymentMethodBalance, Amount: amount})
		}
	}
	return out
}

func hasPositiveCredit(payments []model.Payment) bool {
	for _, p := range payments {
		if p.Method == model.PaymentMethodCredit && p.Amount > epsilon {
			return true
		}
	}
	return false
}
