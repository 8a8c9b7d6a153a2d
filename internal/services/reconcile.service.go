package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/cantina/credit-ledger/pkg/prom"
	"github.com/cantina/credit-ledger/pkg/worker"
)

// ReconcileResult reports what reconciliation found and repaired for one
// customer. Issues is human-readable, one line per discrepancy plus a
// summary; Fixed is true when corrections were written back.
type ReconcileResult struct {
	CustomerID int64    `json:"customer_id"`
	Issues     []string `json:"issues"`
	Fixed      bool     `json:"fixed"`
}

// ReconcileReport aggregates a sweep over all customers.
type ReconcileReport struct {
	Customers int                `json:"customers"`
	WithDrift int                `json:"with_drift"`
	Failed    int                `json:"failed"`
	Results   []*ReconcileResult `json:"results"`
}

// Reconciler recomputes expected ledger state from the full transaction
// history and repairs any stored record that disagrees. It runs the same
// allocator as the mutation path; the two must never diverge.
type Reconciler struct {
	customers CustomerStore
	txns      TransactionStore
	saleSync  *SaleSync
	workers   int
}

func NewReconciler(customers CustomerStore, txns TransactionStore, saleSync *SaleSync, workers int) *Reconciler {
	if workers <= 0 {
		workers = 4
	}
	return &Reconciler{
		customers: customers,
		txns:      txns,
		saleSync:  saleSync,
		workers:   workers,
	}
}

// Reconcile checks one customer and repairs drift. Each mismatched purchase
// gets its stored amountPaid overwritten and its sale split rewritten from
// the expected value, never as an incremental delta.
func (r *Reconciler) Reconcile(ctx context.Context, customerID int64) (*ReconcileResult, error) {
	customer, err := r.customers.Get(ctx, customerID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	history, err := r.txns.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	alloc := Allocate(customer.InitialBalance, history)

	result := &ReconcileResult{CustomerID: customerID, Issues: []string{}}
	for _, t := range history {
		if t.Type != model.TransactionPurchase {
			continue
		}
		expected := alloc[t.ID]
		diff := expected - t.AmountPaid
		if diff > -epsilon && diff < epsilon {
			continue
		}

		result.Issues = append(result.Issues, fmt.Sprintf(
			"transaction %d: amountPaid %.2f, expected %.2f", t.ID, t.AmountPaid, expected))

		if err := r.txns.UpdateAmountPaid(ctx, t.ID, expected); err != nil {
			return nil, fmt.Errorf("fix transaction %d: %w", t.ID, err)
		}
		if t.SaleID != nil {
			if err := r.saleSync.Set(ctx, *t.SaleID, expected); err != nil {
				return nil, fmt.Errorf("sync sale %s: %w", *t.SaleID, err)
			}
		}
		result.Fixed = true
	}

	if len(result.Issues) > 0 {
		prom.ReconcileDiscrepancies(len(result.Issues))
		result.Issues = append(result.Issues, fmt.Sprintf(
			"customer %d: corrected %d purchase(s)", customerID, len(result.Issues)))
		logger.Warn("reconciliation repaired drift",
			"customer_id", customerID, "discrepancies", len(result.Issues)-1)
	}

	return result, nil
}

// ReconcileAll sweeps every non-deleted customer through a bounded worker
// pool. One customer failing never aborts the others; failures are counted
// and reported in that customer's result.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*ReconcileReport, error) {
	customers, err := r.customers.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Customers: len(customers)}
	var mu sync.Mutex

	pool := worker.NewPool(r.workers, len(customers))
	pool.SetHandler(func(workerIndex int, job interface{}) {
		id := job.(int64)
		res, err := r.Reconcile(ctx, id)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed++
			report.Results = append(report.Results, &ReconcileResult{
				CustomerID: id,
				Issues:     []string{fmt.Sprintf("reconcile failed: %v", err)},
			})
			logger.Error("reconcile failed for customer", "customer_id", id, "error", err)
			return
		}
		if res.Fixed {
			report.WithDrift++
		}
		report.Results = append(report.Results, res)
	})
	pool.Start()

	for _, c := range customers {
		pool.Submit(c.ID)
	}
	pool.Close()
	pool.Wait()

	logger.Info("reconcile sweep finished",
		"customers", report.Customers, "with_drift", report.WithDrift, "failed", report.Failed)
	return report, nil
}

// HandleFailure is the error-path hook for mutating operations: log, then
// best-effort reconcile. Its own failures are only logged; this is a
// self-healing safety net, not a request-path operation.
func (r *Reconciler) HandleFailure(ctx context.Context, customerID int64, operation string, cause error) {
	logger.Error("ledger operation failed, attempting self-heal",
		"operation", operation, "customer_id", customerID, "error", cause)

	res, err := r.Reconcile(ctx, customerID)
	if err != nil {
		logger.Error("self-heal reconciliation failed",
			"operation", operation, "customer_id", customerID, "error", err)
		return
	}
	if res.Fixed {
		logger.Info("self-heal reconciliation repaired state",
			"operation", operation, "customer_id", customerID, "issues", len(res.Issues))
		return
	}
	logger.Info("self-heal reconciliation found no drift",
		"operation", operation, "customer_id", customerID)
}
