package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cantina/credit-ledger/internal/audit"
	"github.com/cantina/credit-ledger/internal/config"
	"github.com/cantina/credit-ledger/internal/handlers"
	"github.com/cantina/credit-ledger/internal/queue"
	"github.com/cantina/credit-ledger/internal/repository"
	"github.com/cantina/credit-ledger/internal/sales"
	"github.com/cantina/credit-ledger/internal/services"
	xhttp "github.com/cantina/credit-ledger/pkg/http"
	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/cantina/credit-ledger/pkg/pg"
	"github.com/cantina/credit-ledger/pkg/prom"
	"github.com/cantina/credit-ledger/pkg/redis"
	"github.com/cantina/credit-ledger/pkg/retry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if config.Get().AppDebugMetricsAddr != "" {
		go func() {
			prom.ListenAndServer(config.Get().AppDebugMetricsAddr, config.Get().AppDebugMetricsURI)
		}()
	}

	auditQueue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating audit queue", "error", err)
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
	auditRepo := repository.NewAuditRepository(db)

	// services
	saleSync := services.NewSaleSync(saleClient)
	auditPublisher := audit.NewPublisher(auditQueue)
	reconciler := services.NewReconciler(customerRepo, transactionRepo, saleSync, config.Get().ReconcileWorkers)
	ledgerService := services.NewLedgerService(customerRepo, transactionRepo, saleSync, auditPublisher)
	ledgerService.SetFailureHandler(reconciler)
	customerService := services.NewCustomerService(customerRepo, transactionRepo, saleSync)
	healthService := services.NewHealthService()

	if p := retryPolicyFromConfig(); p.MaxAttempts > 0 {
		ledgerService.SetRetryPolicy(p)
		customerService.SetRetryPolicy(p)
	}

	// v1 handlers
	customerHandler := handlers.NewCustomerHandler(customerService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService, reconciler, auditRepo)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterCustomerRoutes(g, customerHandler)
	handlers.RegisterLedgerRoutes(g, ledgerHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func retryPolicyFromConfig() retry.Policy {
	return retry.Policy{
		MaxAttempts: config.Get().LedgerRetryMaxAttempts,
		BaseDelay:   config.Get().LedgerRetryBaseDelay,
		MaxDelay:    config.Get().LedgerRetryMaxDelay,
	}
}

func argContainsEnvPath() string {
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
	return ""
}
