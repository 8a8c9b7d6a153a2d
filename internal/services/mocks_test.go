package services

import (
	"context"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockCustomerStore struct {
	mock.Mock
}

func (m *MockCustomerStore) Create(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

func (m *MockCustomerStore) Get(ctx context.Context, id int64) (*model.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

func (m *MockCustomerStore) Update(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

func (m *MockCustomerStore) List(ctx context.Context) ([]*model.Customer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Customer), args.Error(1)
}

func (m *MockCustomerStore) SoftDelete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTransactionStore struct {
	mock.Mock
}

func (m *MockTransactionStore) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionStore) ListByCustomer(ctx context.Context, customerID int64) ([]*model.Transaction, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockTransactionStore) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockTransactionStore) UpdateAmountPaid(ctx context.Context, id int64, amountPaid float64) error {
	args := m.Called(ctx, id, amountPaid)
	return args.Error(0)
}

type MockSaleStore struct {
	mock.Mock
}

func (m *MockSaleStore) Get(ctx context.Context, saleID string) (*model.Sale, error) {
	args := m.Called(ctx, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sale), args.Error(1)
}

func (m *MockSaleStore) UpdatePayments(ctx context.Context, saleID string, payments []model.Payment, isPaid bool) error {
	args := m.Called(ctx, saleID, payments, isPaid)
	return args.Error(0)
}

type MockAuditPublisher struct {
	mock.Mock
}

func (m *MockAuditPublisher) PaymentReceived(ctx context.Context, ev model.PaymentReceivedEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type MockFailureHandler struct {
	mock.Mock
}

func (m *MockFailureHandler) HandleFailure(ctx context.Context, customerID int64, operation string, cause error) {
	m.Called(ctx, customerID, operation, cause)
}
