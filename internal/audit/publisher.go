// Package audit publishes ledger audit events onto the redis stream consumed
// by the auditor service.
package audit

import (
	"context"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/queue"
	"github.com/cantina/credit-ledger/pkg/prom"
)

type Publisher struct {
	queue *queue.Queue
}

func NewPublisher(q *queue.Queue) *Publisher {
	return &Publisher{queue: q}
}

// PaymentReceived appends the event to the audit stream. The payment id rides
// along as metadata so consumers can dedupe without decoding the body.
func (p *Publisher) PaymentReceived(ctx context.Context, ev model.PaymentReceivedEvent) error {
	_, err := p.queue.PublishJSON(ctx, ev, map[string]string{
		"payment_id": ev.PaymentID,
		"event_type": "payment_received",
	})
	if err != nil {
		return err
	}
	prom.ObservePaymentReceived(ev.Amount, ev.Method)
	return nil
}
