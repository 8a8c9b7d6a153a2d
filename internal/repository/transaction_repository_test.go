package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("create deposit", func(t *testing.T) {
		txn := &model.Transaction{
			CustomerID:    1,
			Type:          model.TransactionDeposit,
			Amount:        200,
			AmountPaid:    200,
			PaymentMethod: "cash",
			CreatedBy:     "clerk-1",
		}

		created, err := repo.Create(ctx, txn)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, model.TransactionDeposit, created.Type)
	})

	t.Run("create purchase with sale link", func(t *testing.T) {
		saleID := "sale-7"
		txn := &model.Transaction{
			CustomerID: 1,
			Type:       model.TransactionPurchase,
			Amount:     80,
			SaleID:     &saleID,
			CreatedBy:  "clerk-1",
		}

		created, err := repo.Create(ctx, txn)
		require.NoError(t, err)
		require.NotNil(t, created.SaleID)
		assert.Equal(t, "sale-7", *created.SaleID)
		assert.Zero(t, created.AmountPaid)
	})
}

func TestTransactionRepository_ListByCustomerOrdering(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of chronological order; two rows share a timestamp so the
	// id tie-break matters.
	for _, txn := range []*model.Transaction{
		{CustomerID: 5, Type: model.TransactionPurchase, Amount: 30, CreatedAt: base.Add(2 * time.Hour)},
		{CustomerID: 5, Type: model.TransactionDeposit, Amount: 100, AmountPaid: 100, CreatedAt: base},
		{CustomerID: 5, Type: model.TransactionPurchase, Amount: 50, CreatedAt: base.Add(time.Hour)},
		{CustomerID: 5, Type: model.TransactionPurchase, Amount: 20, CreatedAt: base.Add(time.Hour)},
		{CustomerID: 6, Type: model.TransactionDeposit, Amount: 10, AmountPaid: 10, CreatedAt: base},
	} {
		_, err := repo.Create(ctx, txn)
		require.NoError(t, err)
	}

	txns, err := repo.ListByCustomer(ctx, 5)
	require.NoError(t, err)
	require.Len(t, txns, 4)

	assert.Equal(t, model.TransactionDeposit, txns[0].Type)
	assert.Equal(t, 50.0, txns[1].Amount)
	assert.Equal(t, 20.0, txns[2].Amount)
	assert.Equal(t, 30.0, txns[3].Amount)
	assert.Less(t, txns[1].ID, txns[2].ID)
}

func TestTransactionRepository_ListFilters(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		typ := model.TransactionDeposit
		if i%2 == 1 {
			typ = model.TransactionPurchase
		}
		_, err := repo.Create(ctx, &model.Transaction{
			CustomerID: 9,
			Type:       typ,
			Amount:     float64(10 * (i + 1)),
			CreatedAt:  base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}

	cid := int64(9)
	purchase := model.TransactionPurchase

	t.Run("by type", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.TransactionFilter{CustomerID: &cid, Type: &purchase})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		for _, it := range items {
			assert.Equal(t, model.TransactionPurchase, it.Type)
		}
	})

	t.Run("by date range", func(t *testing.T) {
		from := base.AddDate(0, 0, 2)
		to := base.AddDate(0, 0, 5)
		items, total, err := repo.List(ctx, model.TransactionFilter{CustomerID: &cid, From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, items, 3)
	})

	t.Run("pagination desc", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.TransactionFilter{CustomerID: &cid, Limit: 2, Desc: true})
		require.NoError(t, err)
		assert.Equal(t, int64(6), total)
		require.Len(t, items, 2)
		assert.Equal(t, 60.0, items[0].Amount)
	})
}

func TestTransactionRepository_UpdateAmountPaid(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	saleID := "sale-1"
	created, err := repo.Create(ctx, &model.Transaction{
		CustomerID: 2,
		Type:       model.TransactionPurchase,
		Amount:     120,
		SaleID:     &saleID,
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateAmountPaid(ctx, created.ID, 75.5))

	txns, err := repo.ListByCustomer(ctx, 2)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, 75.5, txns[0].AmountPaid)
	// The purchase amount itself is untouched.
	assert.Equal(t, 120.0, txns[0].Amount)

	assert.ErrorIs(t, repo.UpdateAmountPaid(ctx, 9999, 1), ErrTransactionNotFound)
}

func TestTransactionRepository_Delete(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.Transaction{CustomerID: 3, Type: model.TransactionDeposit, Amount: 10})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, created.ID))
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), ErrTransactionNotFound)
}
