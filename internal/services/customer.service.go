package services

import (
	"context"
	"strings"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/pkg/retry"
)

type CustomerService struct {
	customers CustomerStore
	txns      TransactionStore
	saleSync  *SaleSync
	policy    retry.Policy
}

func NewCustomerService(customers CustomerStore, txns TransactionStore, saleSync *SaleSync) *CustomerService {
	return &CustomerService{
		customers: customers,
		txns:      txns,
		saleSync:  saleSync,
		policy:    retry.DefaultPolicy(),
	}
}

func (s *CustomerService) SetRetryPolicy(p retry.Policy) {
	s.policy = p
}

func (s *CustomerService) Create(ctx context.Context, req model.CustomerCreateRequest) (*model.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidCustomerName
	}
	return s.customers.Create(ctx, &model.Customer{
		Name:           name,
		InitialBalance: req.InitialBalance,
		CreditLimit:    req.CreditLimit,
		CreatedAt:      time.Now().UTC(),
	})
}

func (s *CustomerService) Get(ctx context.Context, id int64) (*model.Customer, error) {
	c, err := s.customers.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return c, nil
}

func (s *CustomerService) List(ctx context.Context) ([]*model.Customer, error) {
	return s.customers.List(ctx)
}

// Update edits the customer under its optimistic lock. A lost race re-reads
// and retries the whole cycle. Changing initialBalance shifts the allocation
// pool, so purchases are re-settled afterwards: shrinking it can un-pay a
// purchase that was previously covered.
func (s *CustomerService) Update(ctx context.Context, id int64, req model.CustomerUpdateRequest) (*model.Customer, error) {
	var updated *model.Customer
	pending := map[string]float64{}
	err := retry.Do(ctx, s.policy, retryable, func(ctx context.Context) error {
		customer, err := s.customers.Get(ctx, id)
		if err != nil {
			return mapNotFound(err)
		}

		balanceChanged := false
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return ErrInvalidCustomerName
			}
			customer.Name = name
		}
		if req.InitialBalance != nil && *req.InitialBalance != customer.InitialBalance {
			customer.InitialBalance = *req.InitialBalance
			balanceChanged = true
		}
		if req.ClearLimit {
			customer.CreditLimit = nil
		} else if req.CreditLimit != nil {
			customer.CreditLimit = req.CreditLimit
		}

		updated, err = s.customers.Update(ctx, customer)
		if err != nil {
			return err
		}

		if balanceChanged {
			return syncAllocation(ctx, s.txns, s.saleSync, updated, pending)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete soft-deletes the customer. Transactions stay behind for audit.
func (s *CustomerService) Delete(ctx context.Context, id int64) error {
	err := s.customers.SoftDelete(ctx, id)
	if err != nil {
		return mapNotFound(err)
	}
	return nil
}
