package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/cantina/credit-ledger/internal/config"
	"github.com/cantina/credit-ledger/internal/repository"
	"github.com/cantina/credit-ledger/internal/sales"
	"github.com/cantina/credit-ledger/internal/services"
	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/cantina/credit-ledger/pkg/pg"
)

func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
	}

	switch command() {
	case "reconcile":
		runReconcile()
	default:
		runMigrate()
	}
}

// main.go migrate --dir=./migrations
func runMigrate() {
	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}
	err := pg.Migrate(pgConf, getMigrationPath())
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
	}
}

// main.go reconcile --all
// main.go reconcile --customer=42
func runReconcile() {
	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	db, err := pg.CreateReadWrite(readConf, writeConf, false)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	saleClient, err := sales.NewClient(sales.Config{
		PrimaryURL: config.Get().SaleServicePrimaryUrl,
		BackupURL:  config.Get().SaleServiceBackupUrl,
		Timeout:    config.Get().SaleServiceTimeout,
	})
	if err != nil {
		logger.Error("failed to create sale service client", "error", err)
		return
	}

	customerRepo := repository.NewCustomerRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	saleSync := services.NewSaleSync(saleClient)
	reconciler := services.NewReconciler(customerRepo, transactionRepo, saleSync, config.Get().ReconcileWorkers)

	ctx := context.Background()

	if id, ok := customerFlag(); ok {
		result, err := reconciler.Reconcile(ctx, id)
		if err != nil {
			logger.Error("reconcile failed", "customer_id", id, "error", err)
			return
		}
		logger.Info("reconcile done", "customer_id", id, "fixed", result.Fixed, "issues", len(result.Issues))
		for _, issue := range result.Issues {
			logger.Info(issue)
		}
		return
	}

	report, err := reconciler.ReconcileAll(ctx)
	if err != nil {
		logger.Error("reconcile sweep failed", "error", err)
		return
	}
	logger.Info("reconcile sweep done",
		"customers", report.Customers,
		"with_drift", report.WithDrift,
		"failed", report.Failed)
	for _, result := range report.Results {
		for _, issue := range result.Issues {
			logger.Info(issue, "customer_id", result.CustomerID)
		}
	}
}

func command() string {
	for _, v := range os.Args[1:] {
		if !strings.HasPrefix(v, "-") {
			return v
		}
	}
	return "migrate"
}

func customerFlag() (int64, bool) {
	for _, v := range os.Args {
		if strings.Contains(v, "--customer=") {
			s := strings.Split(v, "=")
			id, err := strconv.ParseInt(s[1], 10, 64)
			if err != nil {
				logger.Error("invalid customer id", "value", s[1])
				return 0, false
			}
			return id, true
		}
	}
	return 0, false
}

func getEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open(".env"); err != nil {
		logger.Error("failed to open the passed env file, got error" + err.Error())
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--dir=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open("./migrations"); err != nil {
		logger.Error("failed to open the passed env file, got error" + err.Error())
		return ""
	}
	return "./migrations"
}
