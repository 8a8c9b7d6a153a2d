package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/repository"
	"github.com/cantina/credit-ledger/internal/store/memory"
	"github.com/cantina/credit-ledger/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

type ledgerFixture struct {
	store *memory.Store
	svc   *LedgerService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := memory.New()
	svc := NewLedgerService(store.Customers(), store.Transactions(), NewSaleSync(store.Sales()), nil)
	svc.SetRetryPolicy(fastPolicy())
	return &ledgerFixture{store: store, svc: svc}
}

func (f *ledgerFixture) newCustomer(t *testing.T, initialBalance float64) *model.Customer {
	t.Helper()
	c, err := f.store.Customers().Create(context.Background(), &model.Customer{
		Name:           "Ada",
		InitialBalance: initialBalance,
	})
	require.NoError(t, err)
	return c
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)

	for _, amount := range []float64{0, -10} {
		_, err := f.svc.Deposit(context.Background(), c.ID, amount, model.PaymentMethodCash, "clerk")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestDepositUnknownCustomer(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.svc.Deposit(context.Background(), 42, 10, model.PaymentMethodCash, "clerk")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestDepositSettlesOldestPurchaseFirst(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)
	ctx := context.Background()

	f.store.Sales().Put(&model.Sale{ID: "s1", Payments: []model.Payment{{Method: model.PaymentMethodCredit, Amount: 30}}})
	f.store.Sales().Put(&model.Sale{ID: "s2", Payments: []model.Payment{{Method: model.PaymentMethodCredit, Amount: 50}}})

	_, err := f.svc.RecordPurchase(ctx, c.ID, 30, "s1", "clerk")
	require.NoError(t, err)
	_, err = f.svc.RecordPurchase(ctx, c.ID, 50, "s2", "clerk")
	require.NoError(t, err)

	// 40 covers the oldest purchase in full and 10 of the second.
	_, err = f.svc.Deposit(ctx, c.ID, 40, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	history, err := f.store.Transactions().ListByCustomer(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.InDelta(t, 30, history[0].AmountPaid, 0.001)
	assert.InDelta(t, 10, history[1].AmountPaid, 0.001)

	s1, err := f.store.Sales().Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s1.IsPaid)
	assert.InDelta(t, 30, paymentAmount(s1, model.PaymentMethodBalance), 0.001)

	s2, err := f.store.Sales().Get(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, s2.IsPaid)
	assert.InDelta(t, 10, paymentAmount(s2, model.PaymentMethodBalance), 0.001)
	assert.InDelta(t, 40, paymentAmount(s2, model.PaymentMethodCredit), 0.001)

	balance, err := f.svc.Balance(ctx, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, -40, balance, 0.001)
}

func paymentAmount(s *model.Sale, method string) float64 {
	var total float64
	for _, p := range s.Payments {
		if p.Method == method {
			total += p.Amount
		}
	}
	return total
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 25)

	_, err := f.svc.Withdraw(context.Background(), c.ID, 100, model.PaymentMethodCash, "clerk")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := f.svc.Balance(context.Background(), c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 25, balance, 0.001)
}

func TestWithdrawShrinksBalance(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 100)

	_, err := f.svc.Withdraw(context.Background(), c.ID, 60, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	balance, err := f.svc.Balance(context.Background(), c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 40, balance, 0.001)
}

func TestPurchaseOnEmptyPoolGoesOnCredit(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)
	ctx := context.Background()

	f.store.Sales().Put(&model.Sale{ID: "s1", Payments: []model.Payment{{Method: model.PaymentMethodCredit, Amount: 75}}})

	txn, err := f.svc.RecordPurchase(ctx, c.ID, 75, "s1", "clerk")
	require.NoError(t, err)
	assert.InDelta(t, 0, txn.AmountPaid, 0.001)

	// Untouched sale: nothing was collected yet.
	s1, err := f.store.Sales().Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, s1.IsPaid)
	assert.InDelta(t, 75, paymentAmount(s1, model.PaymentMethodCredit), 0.001)
}

func TestPurchaseSeedsFromAvailableFunds(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 50)
	ctx := context.Background()

	f.store.Sales().Put(&model.Sale{ID: "s1", Payments: []model.Payment{{Method: model.PaymentMethodCredit, Amount: 80}}})

	txn, err := f.svc.RecordPurchase(ctx, c.ID, 80, "s1", "clerk")
	require.NoError(t, err)
	assert.InDelta(t, 50, txn.AmountPaid, 0.001)

	s1, err := f.store.Sales().Get(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 50, paymentAmount(s1, model.PaymentMethodBalance), 0.001)
	assert.InDelta(t, 30, paymentAmount(s1, model.PaymentMethodCredit), 0.001)
	assert.False(t, s1.IsPaid)
}

func TestPurchaseRespectsCreditLimit(t *testing.T) {
	f := newLedgerFixture(t)
	limit := 50.0
	c, err := f.store.Customers().Create(context.Background(), &model.Customer{
		Name:        "Ada",
		CreditLimit: &limit,
	})
	require.NoError(t, err)

	_, err = f.svc.RecordPurchase(context.Background(), c.ID, 40, "s1", "clerk")
	require.NoError(t, err)

	_, err = f.svc.RecordPurchase(context.Background(), c.ID, 20, "s2", "clerk")
	assert.ErrorIs(t, err, ErrCreditLimitExceeded)
}

func TestRefundReallocatesLikeDeposit(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)
	ctx := context.Background()

	f.store.Sales().Put(&model.Sale{ID: "s1", Payments: []model.Payment{{Method: model.PaymentMethodCredit, Amount: 20}}})

	_, err := f.svc.RecordPurchase(ctx, c.ID, 20, "s1", "clerk")
	require.NoError(t, err)

	_, err = f.svc.RecordRefund(ctx, c.ID, 20, "s0", "clerk")
	require.NoError(t, err)

	history, err := f.store.Transactions().ListByCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20, history[0].AmountPaid, 0.001)

	s1, err := f.store.Sales().Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s1.IsPaid)
}

func TestDepositRetriesTransientFaults(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)

	f.store.FailNext("customers.Get", 2)

	_, err := f.svc.Deposit(context.Background(), c.ID, 10, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	history, err := f.store.Transactions().ListByCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDepositDoesNotDuplicateOnRetry(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)
	ctx := context.Background()

	f.store.Sales().Put(&model.Sale{ID: "s1", Payments: []model.Payment{{Method: model.PaymentMethodCredit, Amount: 30}}})
	_, err := f.svc.RecordPurchase(ctx, c.ID, 30, "s1", "clerk")
	require.NoError(t, err)

	// The write lands, then allocation hits a transient fault; the retried
	// attempt must not append a second deposit.
	f.store.FailNext("transactions.UpdateAmountPaid", 1)

	_, err = f.svc.Deposit(ctx, c.ID, 30, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	history, err := f.store.Transactions().ListByCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.InDelta(t, 30, history[0].AmountPaid, 0.001)
}

func TestDepositGivesUpAfterRetryBudget(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)

	f.store.FailNext("customers.Get", 10)

	_, err := f.svc.Deposit(context.Background(), c.ID, 10, model.PaymentMethodCash, "clerk")
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

func TestFailureHandlerInvokedOnStoreFailure(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)

	handler := new(MockFailureHandler)
	handler.On("HandleFailure", mock.Anything, c.ID, "deposit", mock.Anything).Once()
	f.svc.SetFailureHandler(handler)

	f.store.FailNext("customers.Get", 10)

	_, err := f.svc.Deposit(context.Background(), c.ID, 10, model.PaymentMethodCash, "clerk")
	require.Error(t, err)
	handler.AssertExpectations(t)
}

func TestFailureHandlerSkippedOnValidationErrors(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)

	handler := new(MockFailureHandler)
	f.svc.SetFailureHandler(handler)

	_, err := f.svc.Withdraw(context.Background(), c.ID, 10, model.PaymentMethodCash, "clerk")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	handler.AssertNotCalled(t, "HandleFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDepositPublishesAuditEvent(t *testing.T) {
	store := memory.New()
	audit := new(MockAuditPublisher)
	svc := NewLedgerService(store.Customers(), store.Transactions(), NewSaleSync(store.Sales()), audit)
	svc.SetRetryPolicy(fastPolicy())

	c, err := store.Customers().Create(context.Background(), &model.Customer{Name: "Ada"})
	require.NoError(t, err)

	audit.On("PaymentReceived", mock.Anything, mock.MatchedBy(func(ev model.PaymentReceivedEvent) bool {
		return ev.CustomerID == c.ID && ev.Amount == 10 && ev.ActorID == "clerk" && ev.PaymentID != ""
	})).Return(nil).Once()

	_, err = svc.Deposit(context.Background(), c.ID, 10, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	audit.AssertExpectations(t)
}

func TestDepositSucceedsWhenAuditPublishFails(t *testing.T) {
	store := memory.New()
	audit := new(MockAuditPublisher)
	svc := NewLedgerService(store.Customers(), store.Transactions(), NewSaleSync(store.Sales()), audit)
	svc.SetRetryPolicy(fastPolicy())

	c, err := store.Customers().Create(context.Background(), &model.Customer{Name: "Ada"})
	require.NoError(t, err)

	audit.On("PaymentReceived", mock.Anything, mock.Anything).Return(errors.New("stream down")).Once()

	_, err = svc.Deposit(context.Background(), c.ID, 10, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	audit.AssertExpectations(t)
}

func TestHistoryRunningBalance(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 100)
	ctx := context.Background()

	_, err := f.svc.RecordPurchase(ctx, c.ID, 30, "s1", "clerk")
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, c.ID, 20, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, c.ID, 10, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	entries, total, err := f.svc.History(ctx, c.ID, model.TransactionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, entries, 3)
	assert.InDelta(t, 70, entries[0].Balance, 0.001)
	assert.InDelta(t, 50, entries[1].Balance, 0.001)
	assert.InDelta(t, 60, entries[2].Balance, 0.001)
}

func TestHistoryNewestFirstAndTypeFilter(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, c.ID, 10, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	_, err = f.svc.RecordPurchase(ctx, c.ID, 5, "s1", "clerk")
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, c.ID, 20, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	deposit := model.TransactionDeposit
	entries, total, err := f.svc.History(ctx, c.ID, model.TransactionFilter{Type: &deposit, Desc: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, entries, 2)
	assert.InDelta(t, 20, entries[0].Amount, 0.001)
	assert.InDelta(t, 10, entries[1].Amount, 0.001)
	// Running balance still reflects the skipped purchase.
	assert.InDelta(t, 25, entries[0].Balance, 0.001)
}

func TestBalanceFormula(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 100)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, c.ID, 50, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	_, err = f.svc.RecordPurchase(ctx, c.ID, 80, "s1", "clerk")
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, c.ID, 30, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	_, err = f.svc.RecordRefund(ctx, c.ID, 10, "s1", "clerk")
	require.NoError(t, err)

	balance, err := f.svc.Balance(ctx, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50, balance, 0.001)
}

func TestDepositRepairsSaleSplitAfterSaleWriteFault(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 0)
	ctx := context.Background()

	f.store.Sales().Put(&model.Sale{ID: "s1", Payments: []model.Payment{{Method: model.PaymentMethodCredit, Amount: 30}}})
	_, err := f.svc.RecordPurchase(ctx, c.ID, 30, "s1", "clerk")
	require.NoError(t, err)

	// The amountPaid write lands, then the sale write hits a transient
	// fault. The retried attempt sees no amountPaid drift anymore, so it
	// must replay the sale write from the absolute value instead of
	// skipping the sale.
	f.store.FailNext("sales.UpdatePayments", 1)

	_, err = f.svc.Deposit(ctx, c.ID, 30, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	history, err := f.store.Transactions().ListByCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 30, history[0].AmountPaid, 0.001)

	s1, err := f.store.Sales().Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s1.IsPaid, "sale split must match the settled purchase")
}

func TestDepositRetriesLostVersionRace(t *testing.T) {
	customers := new(MockCustomerStore)
	txns := new(MockTransactionStore)
	svc := NewLedgerService(customers, txns, NewSaleSync(memory.New().Sales()), nil)
	svc.SetRetryPolicy(fastPolicy())

	customer := &model.Customer{ID: 1, Name: "Ada", Version: 1}
	customers.On("Get", mock.Anything, int64(1)).Return(customer, nil)
	customers.On("Update", mock.Anything, mock.Anything).
		Return(nil, repository.ErrVersionConflict).Once()
	customers.On("Update", mock.Anything, mock.Anything).
		Return(&model.Customer{ID: 1, Name: "Ada", Version: 2}, nil)
	txns.On("Create", mock.Anything, mock.Anything).
		Return(&model.Transaction{ID: 7, CustomerID: 1, Type: model.TransactionDeposit, Amount: 10, AmountPaid: 10}, nil)
	txns.On("ListByCustomer", mock.Anything, int64(1)).
		Return([]*model.Transaction{}, nil)

	created, err := svc.Deposit(context.Background(), 1, 10, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	require.NotNil(t, created)
	// The losing attempt backed off before appending anything.
	txns.AssertNumberOfCalls(t, "Create", 1)
	customers.AssertNumberOfCalls(t, "Update", 2)
}

func TestMutationsBumpCustomerVersion(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 50)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, c.ID, 10, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, c.ID, 5, model.PaymentMethodCash, "clerk")
	require.NoError(t, err)

	got, err := f.store.Customers().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Greater(t, got.Version, c.Version)
}

func TestPurchaseAndRefundWithoutSaleLeaveSaleIDUnset(t *testing.T) {
	f := newLedgerFixture(t)
	c := f.newCustomer(t, 20)
	ctx := context.Background()

	purchase, err := f.svc.RecordPurchase(ctx, c.ID, 10, "", "clerk")
	require.NoError(t, err)
	assert.Nil(t, purchase.SaleID)

	refund, err := f.svc.RecordRefund(ctx, c.ID, 5, "", "clerk")
	require.NoError(t, err)
	assert.Nil(t, refund.SaleID)
}
