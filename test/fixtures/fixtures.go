package fixtures

import (
	"time"

	"github.com/cantina/credit-ledger/internal/model"
)

var (
	TestCustomer1 = model.Customer{
		ID:             1,
		Name:           "Acme Trading",
		InitialBalance: 1000,
		Version:        1,
	}

	TestCustomer2 = model.Customer{
		ID:             2,
		Name:           "Beta Logistics",
		InitialBalance: 500,
		Version:        1,
	}

	TestCustomerZeroBalance = model.Customer{
		ID:             3,
		Name:           "Cash Only Co",
		InitialBalance: 0,
		Version:        1,
	}
)

func NewTestCustomerCreateRequest(name string, initialBalance float64, creditLimit *float64) model.CustomerCreateRequest {
	return model.CustomerCreateRequest{
		Name:           name,
		InitialBalance: initialBalance,
		CreditLimit:    creditLimit,
	}
}

func NewTestPurchase(customerID int64, amount float64, saleID string) *model.Transaction {
	var sid *string
	if saleID != "" {
		sid = &saleID
	}
	return &model.Transaction{
		CustomerID:    customerID,
		Type:          model.TransactionPurchase,
		Amount:        amount,
		SaleID:        sid,
		PaymentMethod: model.PaymentMethodCredit,
		CreatedBy:     "test",
		CreatedAt:     time.Now(),
	}
}

func NewTestDeposit(customerID int64, amount float64) *model.Transaction {
	return &model.Transaction{
		CustomerID:    customerID,
		Type:          model.TransactionDeposit,
		Amount:        amount,
		PaymentMethod: model.PaymentMethodCash,
		CreatedBy:     "test",
		CreatedAt:     time.Now(),
	}
}

func NewTestSale(id string, creditAmount float64) *model.Sale {
	return &model.Sale{
		ID: id,
		Payments: []model.Payment{
			{Method: model.PaymentMethodCredit, Amount: creditAmount},
		},
	}
}
