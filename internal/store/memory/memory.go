// Package memory is an in-memory rendition of the ledger store. It backs
// tests and local development; the contract matches the gorm repositories,
// including per-customer optimistic-lock versions and the same sentinel
// errors. FailNext injects transient faults so the retry layer can be
// exercised without a flaky network.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/repository"
)

type Store struct {
	mu           sync.RWMutex
	customers    map[int64]*model.Customer
	transactions map[int64]*model.Transaction
	sales        map[string]*model.Sale

	nextCustomerID    int64
	nextTransactionID int64

	failures map[string]int
}

func New() *Store {
	return &Store{
		customers:    make(map[int64]*model.Customer),
		transactions: make(map[int64]*model.Transaction),
		sales:        make(map[string]*model.Sale),
		failures:     make(map[string]int),
	}
}

// Customers exposes the customer contract of the store.
func (s *Store) Customers() *CustomerStore { return &CustomerStore{s} }

// Transactions exposes the transaction contract of the store.
func (s *Store) Transactions() *TransactionStore { return &TransactionStore{s} }

// Sales exposes the sale contract of the store.
func (s *Store) Sales() *SaleStore { return &SaleStore{s} }

// FailNext makes the next n calls of the named operation fail with
// ErrStoreUnavailable. Operation names are the exported method names,
// prefixed with the view, e.g. "customers.Update" or "sales.Get".
func (s *Store) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

func (s *Store) injectFault(op string) error {
	if s.failures[op] > 0 {
		s.failures[op]--
		return fmt.Errorf("%w: injected fault on %s", repository.ErrStoreUnavailable, op)
	}
	return nil
}

/* ------------------------------- customers -------------------------------- */

type CustomerStore struct {
	s *Store
}

func (cs *CustomerStore) Create(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("customers.Create"); err != nil {
		return nil, err
	}

	s.nextCustomerID++
	stored := *c
	stored.ID = s.nextCustomerID
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.customers[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (cs *CustomerStore) Get(ctx context.Context, id int64) (*model.Customer, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("customers.Get"); err != nil {
		return nil, err
	}

	c, ok := s.customers[id]
	if !ok || c.DeletedAt != nil {
		return nil, repository.ErrCustomerNotFound
	}
	out := *c
	return &out, nil
}

func (cs *CustomerStore) Update(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("customers.Update"); err != nil {
		return nil, err
	}

	stored, ok := s.customers[c.ID]
	if !ok || stored.DeletedAt != nil {
		return nil, repository.ErrCustomerNotFound
	}
	if stored.Version != c.Version {
		return nil, repository.ErrVersionConflict
	}

	updated := *c
	updated.Version = c.Version + 1
	s.customers[c.ID] = &updated

	out := updated
	return &out, nil
}

func (cs *CustomerStore) List(ctx context.Context) ([]*model.Customer, error) {
	s := cs.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Customer
	for _, c := range s.customers {
		if c.DeletedAt != nil {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (cs *CustomerStore) SoftDelete(ctx context.Context, id int64) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[id]
	if !ok || c.DeletedAt != nil {
		return repository.ErrCustomerNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return nil
}

/* ------------------------------ transactions ------------------------------ */

type TransactionStore struct {
	s *Store
}

func (ts *TransactionStore) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("transactions.Create"); err != nil {
		return nil, err
	}

	s.nextTransactionID++
	stored := *txn
	stored.ID = s.nextTransactionID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.transactions[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (ts *TransactionStore) ListByCustomer(ctx context.Context, customerID int64) ([]*model.Transaction, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("transactions.ListByCustomer"); err != nil {
		return nil, err
	}
	return s.listByCustomerLocked(customerID), nil
}

func (s *Store) listByCustomerLocked(customerID int64) []*model.Transaction {
	var out []*model.Transaction
	for _, t := range s.transactions {
		if t.CustomerID != customerID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sortByAge(out)
	return out
}

func sortByAge(txns []*model.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].CreatedAt.Before(txns[j].CreatedAt)
		}
		return txns[i].ID < txns[j].ID
	})
}

func (ts *TransactionStore) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("transactions.List"); err != nil {
		return nil, 0, err
	}

	var all []*model.Transaction
	if f.CustomerID != nil {
		all = s.listByCustomerLocked(*f.CustomerID)
	} else {
		for _, t := range s.transactions {
			cp := *t
			all = append(all, &cp)
		}
		sortByAge(all)
	}

	var filtered []*model.Transaction
	for _, t := range all {
		if f.Type != nil && *f.Type != "" && t.Type != *f.Type {
			continue
		}
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !t.CreatedAt.Before(*f.To) {
			continue
		}
		filtered = append(filtered, t)
	}

	total := int64(len(filtered))
	if f.Desc {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) {
		return []*model.Transaction{}, total, nil
	}
	filtered = filtered[offset:]

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, total, nil
}

func (ts *TransactionStore) UpdateAmountPaid(ctx context.Context, id int64, amountPaid float64) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("transactions.UpdateAmountPaid"); err != nil {
		return err
	}

	t, ok := s.transactions[id]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	t.AmountPaid = amountPaid
	return nil
}

func (ts *TransactionStore) Delete(ctx context.Context, id int64) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; !ok {
		return repository.ErrTransactionNotFound
	}
	delete(s.transactions, id)
	return nil
}

/* --------------------------------- sales ---------------------------------- */

type SaleStore struct {
	s *Store
}

// Put seeds or replaces a sale record.
func (ss *SaleStore) Put(sale *model.Sale) {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sale
	cp.Payments = append([]model.Payment(nil), sale.Payments...)
	s.sales[sale.ID] = &cp
}

func (ss *SaleStore) Get(ctx context.Context, saleID string) (*model.Sale, error) {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("sales.Get"); err != nil {
		return nil, err
	}

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, model.ErrSaleNotFound
	}
	cp := *sale
	cp.Payments = append([]model.Payment(nil), sale.Payments...)
	return &cp, nil
}

func (ss *SaleStore) UpdatePayments(ctx context.Context, saleID string, payments []model.Payment, isPaid bool) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectFault("sales.UpdatePayments"); err != nil {
		return err
	}

	sale, ok := s.sales[saleID]
	if !ok {
		return model.ErrSaleNotFound
	}
	sale.Payments = append([]model.Payment(nil), payments...)
	sale.IsPaid = isPaid
	return nil
}
