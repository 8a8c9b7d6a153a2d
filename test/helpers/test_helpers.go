package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cantina/credit-ledger/internal/repository"
	"github.com/cantina/credit-ledger/pkg/pg"
	"github.com/cantina/credit-ledger/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.CustomerEntity{},
		&repository.TransactionEntity{},
		&repository.AuditEntryEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestCustomer(t *testing.T, db *pg.DB, id int64, initialBalance float64, creditLimit *float64) *repository.CustomerEntity {
	ctx := context.Background()
	customer := &repository.CustomerEntity{
		ID:             id,
		Name:           "Test Customer",
		InitialBalance: initialBalance,
		CreditLimit:    creditLimit,
		CreatedAt:      time.Now(),
		Version:        1,
	}
	err := db.Write(ctx).Create(customer).Error
	require.NoError(t, err)
	return customer
}

func CreateTestTransaction(t *testing.T, db *pg.DB, customerID int64, txnType string, amount float64, saleID *string) *repository.TransactionEntity {
	ctx := context.Background()
	txn := &repository.TransactionEntity{
		CustomerID:    customerID,
		Type:          txnType,
		Amount:        amount,
		SaleID:        saleID,
		PaymentMethod: "credit",
		CreatedBy:     "test",
		CreatedAt:     time.Now(),
	}
	err := db.Write(ctx).Create(txn).Error
	require.NoError(t, err)
	return txn
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
