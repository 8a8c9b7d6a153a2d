package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/queue"
	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/cantina/credit-ledger/pkg/prom"
)

type AuditEntryRepository interface {
	Create(ctx context.Context, entry *model.AuditEntry) (*model.AuditEntry, error)
}

// AuditEventProcessor drains payment-received events off the stream and
// persists them as audit_log rows, exactly once per payment id.
type AuditEventProcessor struct {
	entries     AuditEntryRepository
	idempotency *IdempotencyService
}

func NewAuditEventProcessor(entries AuditEntryRepository, idempotency *IdempotencyService) *AuditEventProcessor {
	return &AuditEventProcessor{
		entries:     entries,
		idempotency: idempotency,
	}
}

func (p *AuditEventProcessor) GetType() string {
	return "payment_received"
}

func (p *AuditEventProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var ev model.PaymentReceivedEvent
	if err := json.Unmarshal(queueMessage.Data, &ev); err != nil {
		logger.Error("Failed to unmarshal audit event", "error", err)
		prom.AuditEventProcessed("invalid")
		return err // trigger DLQ move
	}
	if ev.PaymentID == "" {
		logger.Error("Audit event missing payment id", "queue_message_id", queueMessage.ID)
		prom.AuditEventProcessed("invalid")
		return errors.New("audit event missing payment id")
	}

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, ev.PaymentID)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			logger.Info("Event already processed, skipping", "payment_id", ev.PaymentID)
			prom.AuditEventProcessed("duplicate")
			return nil // ACK duplicates
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("Max retries exceeded for audit event", "payment_id", ev.PaymentID)
			prom.AuditEventProcessed("dropped")
			return nil // ACK, the DLQ already has it
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			logger.Info("Lock held by another consumer, will retry", "payment_id", ev.PaymentID)
			return errors.New("lock held by another consumer")
		}
		logger.Error("Failed to acquire lock", "payment_id", ev.PaymentID, "error", err)
		return err
	}

	defer func() {
		if procCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, procCtx)
		}
	}()

	logger.Info("Processing audit event",
		"payment_id", ev.PaymentID,
		"customer_id", ev.CustomerID,
		"amount", ev.Amount,
		"retry_count", procCtx.RetryCount,
		"is_retry", procCtx.IsRetry)

	entry := &model.AuditEntry{
		PaymentID:  ev.PaymentID,
		CustomerID: ev.CustomerID,
		ActorID:    ev.ActorID,
		Amount:     ev.Amount,
		Method:     ev.Method,
		OccurredAt: ev.OccurredAt,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := p.entries.Create(ctx, entry); err != nil {
		logger.Error("Failed to persist audit entry", "payment_id", ev.PaymentID, "error", err)
		if markErr := p.idempotency.MarkFailure(ctx, procCtx, err); markErr != nil {
			logger.Error("Failed to mark failure", "payment_id", ev.PaymentID, "error", markErr)
		}
		prom.AuditEventProcessed("failed")
		return err // NACK to retry
	}

	if markErr := p.idempotency.MarkSuccess(ctx, procCtx); markErr != nil {
		logger.Error("Failed to mark success", "payment_id", ev.PaymentID, "error", markErr)
		// Continue, the row is persisted and the unique index dedupes replays.
	}

	prom.AuditEventProcessed("ok")
	return nil
}
