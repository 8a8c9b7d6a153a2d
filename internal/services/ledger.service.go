package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/repository"
	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/cantina/credit-ledger/pkg/prom"
	"github.com/cantina/credit-ledger/pkg/retry"
	"github.com/google/uuid"
)

var (
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance for withdrawal")
	ErrCreditLimitExceeded = errors.New("purchase would exceed credit limit")
	ErrInvalidCustomerName = errors.New("customer name cannot be empty")
)

// CustomerStore is the versioned customer contract against the ledger store.
type CustomerStore interface {
	Create(ctx context.Context, c *model.Customer) (*model.Customer, error)
	Get(ctx context.Context, id int64) (*model.Customer, error)
	Update(ctx context.Context, c *model.Customer) (*model.Customer, error)
	List(ctx context.Context) ([]*model.Customer, error)
	SoftDelete(ctx context.Context, id int64) error
}

// TransactionStore is the transaction contract against the ledger store.
type TransactionStore interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]*model.Transaction, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	UpdateAmountPaid(ctx context.Context, id int64, amountPaid float64) error
}

// AuditPublisher records payment-received events. Fire-and-observe: callers
// log failures and move on.
type AuditPublisher interface {
	PaymentReceived(ctx context.Context, ev model.PaymentReceivedEvent) error
}

// FailureHandler is the reconciliation hook invoked when a mutating ledger
// operation fails partway, so stored state can be repaired out of band.
type FailureHandler interface {
	HandleFailure(ctx context.Context, customerID int64, operation string, cause error)
}

type LedgerService struct {
	customers CustomerStore
	txns      TransactionStore
	saleSync  *SaleSync
	audit     AuditPublisher
	onFailure FailureHandler
	policy    retry.Policy
}

func NewLedgerService(customers CustomerStore, txns TransactionStore, saleSync *SaleSync, audit AuditPublisher) *LedgerService {
	return &LedgerService{
		customers: customers,
		txns:      txns,
		saleSync:  saleSync,
		audit:     audit,
		policy:    retry.DefaultPolicy(),
	}
}

// SetFailureHandler wires the reconciler in. Optional; without it failed
// operations are only logged.
func (s *LedgerService) SetFailureHandler(h FailureHandler) {
	s.onFailure = h
}

func (s *LedgerService) SetRetryPolicy(p retry.Policy) {
	s.policy = p
}

// retryable covers transient store failures plus lost optimistic-lock races;
// both are safe to re-run because each attempt re-reads before writing.
func retryable(err error) bool {
	return repository.IsTransient(err) || errors.Is(err, repository.ErrVersionConflict)
}

// fence writes the customer back under its optimistic lock before any
// transaction is appended. Two writers racing on the same customer both
// read version N; only one lands N+1, the other gets ErrVersionConflict
// and re-enters its read-allocate-write cycle.
func (s *LedgerService) fence(ctx context.Context, customer *model.Customer) error {
	if _, err := s.customers.Update(ctx, customer); err != nil {
		return mapNotFound(err)
	}
	return nil
}

// Deposit adds prepaid funds to the customer's pool and settles unpaid
// purchases oldest-first with whatever the pool now covers.
func (s *LedgerService) Deposit(ctx context.Context, customerID int64, amount float64, method, actor string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var created *model.Transaction
	pending := map[string]float64{}
	err := retry.Do(ctx, s.policy, retryable, func(ctx context.Context) error {
		customer, err := s.customers.Get(ctx, customerID)
		if err != nil {
			return mapNotFound(err)
		}
		if err := s.fence(ctx, customer); err != nil {
			return err
		}

		// Append exactly once; a retried attempt re-reads and re-allocates
		// but never duplicates the event.
		if created == nil {
			txn, err := s.txns.Create(ctx, &model.Transaction{
				CustomerID:    customerID,
				Type:          model.TransactionDeposit,
				Amount:        amount,
				AmountPaid:    amount, // money-in is fully "paid" by definition
				PaymentMethod: method,
				CreatedBy:     actor,
				CreatedAt:     time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			created = txn
		}

		return s.reallocate(ctx, customer, pending)
	})
	if err != nil {
		s.reportFailure(ctx, customerID, "deposit", err)
		return nil, err
	}

	s.publishPaymentReceived(ctx, customerID, actor, amount, method)
	return created, nil
}

// Withdraw takes prepaid funds back out. It never re-runs allocation: it only
// shrinks the pool, and only below purchases that were already marked paid.
// Any resulting overcommitment surfaces at the next reconciliation sweep.
func (s *LedgerService) Withdraw(ctx context.Context, customerID int64, amount float64, method, actor string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var created *model.Transaction
	err := retry.Do(ctx, s.policy, retryable, func(ctx context.Context) error {
		customer, err := s.customers.Get(ctx, customerID)
		if err != nil {
			return mapNotFound(err)
		}

		history, err := s.txns.ListByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if amount > ComputeBalance(customer.InitialBalance, history) {
			return ErrInsufficientBalance
		}
		if err := s.fence(ctx, customer); err != nil {
			return err
		}

		if created == nil {
			txn, err := s.txns.Create(ctx, &model.Transaction{
				CustomerID:    customerID,
				Type:          model.TransactionWithdrawal,
				Amount:        amount,
				PaymentMethod: method,
				CreatedBy:     actor,
				CreatedAt:     time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			created = txn
		}
		return nil
	})
	if err != nil {
		s.reportFailure(ctx, customerID, "withdraw", err)
		return nil, err
	}
	return created, nil
}

// RecordPurchase appends a purchase against the ledger. Buying on credit with
// an empty pool is always allowed; only a configured credit limit can refuse.
func (s *LedgerService) RecordPurchase(ctx context.Context, customerID int64, amount float64, saleID string, actor string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var created *model.Transaction
	err := retry.Do(ctx, s.policy, retryable, func(ctx context.Context) error {
		customer, err := s.customers.Get(ctx, customerID)
		if err != nil {
			return mapNotFound(err)
		}

		history, err := s.txns.ListByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		balance := ComputeBalance(customer.InitialBalance, history)

		if customer.CreditLimit != nil && balance-amount < -*customer.CreditLimit {
			return fmt.Errorf("%w: balance %.2f, amount %.2f, limit %.2f",
				ErrCreditLimitExceeded, balance, amount, *customer.CreditLimit)
		}
		if err := s.fence(ctx, customer); err != nil {
			return err
		}

		// Seed with whatever is immediately available; 0 is the plain
		// buy-on-credit path.
		seeded := clamp(balance, 0, amount)

		if created == nil {
			var sid *string
			if saleID != "" {
				sid = &saleID
			}
			txn, err := s.txns.Create(ctx, &model.Transaction{
				CustomerID: customerID,
				Type:       model.TransactionPurchase,
				Amount:     amount,
				AmountPaid: seeded,
				SaleID:     sid,
				CreatedBy:  actor,
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			created = txn
		}

		// Absolute write so a retried attempt cannot double-count the seed.
		if created.AmountPaid > 0 && saleID != "" {
			if err := s.saleSync.Set(ctx, saleID, created.AmountPaid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.reportFailure(ctx, customerID, "recordPurchase", err)
		return nil, err
	}
	return created, nil
}

// RecordRefund returns money to the pool and reallocates exactly like a
// deposit does.
func (s *LedgerService) RecordRefund(ctx context.Context, customerID int64, amount float64, saleID string, actor string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var created *model.Transaction
	pending := map[string]float64{}
	err := retry.Do(ctx, s.policy, retryable, func(ctx context.Context) error {
		customer, err := s.customers.Get(ctx, customerID)
		if err != nil {
			return mapNotFound(err)
		}
		if err := s.fence(ctx, customer); err != nil {
			return err
		}

		if created == nil {
			var sid *string
			if saleID != "" {
				sid = &saleID
			}
			txn, err := s.txns.Create(ctx, &model.Transaction{
				CustomerID: customerID,
				Type:       model.TransactionRefund,
				Amount:     amount,
				AmountPaid: amount,
				SaleID:     sid,
				CreatedBy:  actor,
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			created = txn
		}

		return s.reallocate(ctx, customer, pending)
	})
	if err != nil {
		s.reportFailure(ctx, customerID, "recordRefund", err)
		return nil, err
	}
	return created, nil
}

// Balance derives the customer's signed balance per the ledger formula.
func (s *LedgerService) Balance(ctx context.Context, customerID int64) (float64, error) {
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return 0, mapNotFound(err)
	}
	history, err := s.txns.ListByCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	return ComputeBalance(customer.InitialBalance, history), nil
}

// History returns the customer's transactions with the running balance after
// each one, newest or oldest first, optionally filtered by date range and
// type. The running balance needs the whole history, so filtering happens
// after the walk.
func (s *LedgerService) History(ctx context.Context, customerID int64, f model.TransactionFilter) ([]*model.TransactionWithBalance, int64, error) {
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, 0, mapNotFound(err)
	}
	history, err := s.txns.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, 0, err
	}

	running := customer.InitialBalance
	entries := make([]*model.TransactionWithBalance, 0, len(history))
	for _, t := range history {
		switch t.Type {
		case model.TransactionDeposit, model.TransactionRefund:
			running += t.Amount
		case model.TransactionWithdrawal, model.TransactionPurchase:
			running -= t.Amount
		}
		if !matchesFilter(t, f) {
			continue
		}
		entries = append(entries, &model.TransactionWithBalance{Transaction: t, Balance: running})
	}

	total := int64(len(entries))

	if f.Desc {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []*model.TransactionWithBalance{}, total, nil
	}
	entries = entries[offset:]

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if limit < len(entries) {
		entries = entries[:limit]
	}

	return entries, total, nil
}

func matchesFilter(t *model.Transaction, f model.TransactionFilter) bool {
	if f.Type != nil && *f.Type != "" && t.Type != *f.Type {
		return false
	}
	if f.From != nil && t.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !t.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

func (s *LedgerService) reallocate(ctx context.Context, customer *model.Customer, pending map[string]float64) error {
	return syncAllocation(ctx, s.txns, s.saleSync, customer, pending)
}

// syncAllocation re-runs the FIFO allocator over the customer's history and
// pushes every change into the store and the linked sales. Increases flow
// through the incremental synchronizer; decreases (an initial-balance edit
// can shrink the pool) rewrite the sale split from the expected value.
//
// The pending map outlives a single attempt: it holds the sale IDs whose
// amountPaid write may have landed while the matching sale write did not.
// A retried attempt sees amountPaid already correct, and without the map it
// would skip the sale entirely, leaving the split stale forever. Entries are
// cleared only after the sale write is confirmed.
func syncAllocation(ctx context.Context, store TransactionStore, sync *SaleSync, customer *model.Customer, pending map[string]float64) error {
	start := time.Now()
	defer func() {
		prom.ObserveAllocationDuration(time.Since(start).Seconds())
	}()

	history, err := store.ListByCustomer(ctx, customer.ID)
	if err != nil {
		return err
	}

	alloc := Allocate(customer.InitialBalance, history)

	for _, t := range history {
		if t.Type != model.TransactionPurchase {
			continue
		}
		expected := alloc[t.ID]
		diff := expected - t.AmountPaid
		if diff > -epsilon && diff < epsilon {
			if t.SaleID == nil {
				continue
			}
			if _, unsynced := pending[*t.SaleID]; unsynced {
				if err := sync.Set(ctx, *t.SaleID, expected); err != nil {
					return err
				}
				delete(pending, *t.SaleID)
			}
			continue
		}

		replay := false
		if t.SaleID != nil {
			_, replay = pending[*t.SaleID]
			pending[*t.SaleID] = expected
		}
		if err := store.UpdateAmountPaid(ctx, t.ID, expected); err != nil {
			return err
		}
		if t.SaleID == nil {
			continue
		}
		if diff > 0 && !replay {
			err = sync.Apply(ctx, *t.SaleID, diff)
		} else {
			// Absolute rewrite: a replayed sale write may have half-landed
			// on the previous attempt, so a delta cannot be trusted twice.
			err = sync.Set(ctx, *t.SaleID, expected)
		}
		if err != nil {
			return err
		}
		delete(pending, *t.SaleID)
	}
	return nil
}

func (s *LedgerService) publishPaymentReceived(ctx context.Context, customerID int64, actor string, amount float64, method string) {
	if s.audit == nil {
		return
	}
	ev := model.PaymentReceivedEvent{
		PaymentID:  uuid.New().String(),
		CustomerID: customerID,
		ActorID:    actor,
		Amount:     amount,
		Method:     method,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.audit.PaymentReceived(ctx, ev); err != nil {
		logger.Warn("failed to publish payment-received audit event",
			"customer_id", customerID, "payment_id", ev.PaymentID, "error", err)
	}
}

// reportFailure hands a failed mutation to the reconciler. Validation
// failures leave no partial state behind, so only store-side failures are
// reported.
func (s *LedgerService) reportFailure(ctx context.Context, customerID int64, op string, err error) {
	if errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCreditLimitExceeded) {
		return
	}
	logger.Error("ledger operation failed", "operation", op, "customer_id", customerID, "error", err)
	if s.onFailure != nil {
		s.onFailure.HandleFailure(ctx, customerID, op, err)
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrCustomerNotFound) {
		return ErrCustomerNotFound
	}
	return err
}
