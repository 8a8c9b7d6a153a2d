// Package sales is the HTTP client for the sales service, which owns sale
// records and their payment splits. The ledger only reads a sale and rewrites
// its payments; everything else about sales lives on the other side of this
// client.
package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/repository"
	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/valyala/fasthttp"
)

var ErrNoAvailableEndpoints = errors.New("no available sales endpoints")

type Config struct {
	PrimaryURL       string
	BackupURL        string
	Timeout          time.Duration
	MaxConns         int
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

type endpoint struct {
	name   string
	url    string
	client *fasthttp.Client

	consecutiveFails atomic.Int32
	openUntil        atomic.Int64
}

func (e *endpoint) available() bool {
	until := e.openUntil.Load()
	return until == 0 || time.Now().Unix() > until
}

func (e *endpoint) recordSuccess() {
	e.consecutiveFails.Store(0)
	e.openUntil.Store(0)
}

// Client talks to the sales service, preferring the primary endpoint and
// failing over to the backup when the primary's breaker is open.
type Client struct {
	config    Config
	endpoints []*endpoint
	mu        sync.RWMutex
}

func NewClient(config Config) (*Client, error) {
	if config.PrimaryURL == "" {
		return nil, errors.New("primary sales url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	c := &Client{config: config}
	for _, ep := range []struct{ name, url string }{
		{"primary", config.PrimaryURL},
		{"backup", config.BackupURL},
	} {
		if ep.url == "" {
			continue
		}
		c.endpoints = append(c.endpoints, &endpoint{
			name: ep.name,
			url:  ep.url,
			client: &fasthttp.Client{
				MaxConnsPerHost:     config.MaxConns,
				ReadTimeout:         config.Timeout,
				WriteTimeout:        config.Timeout,
				MaxIdleConnDuration: 60 * time.Second,
			},
		})
		logger.Info("Sales endpoint initialized", "name", ep.name, "url", ep.url)
	}

	return c, nil
}

type saleResponse struct {
	ID       string             `json:"id"`
	Payments []salePaymentEntry `json:"payments"`
	IsPaid   bool               `json:"is_paid"`
}

type salePaymentEntry struct {
	Method string  `json:"method"`
	Amount float64 `json:"amount"`
}

type updatePaymentsRequest struct {
	Payments []salePaymentEntry `json:"payments"`
	IsPaid   bool               `json:"is_paid"`
}

// Get fetches a sale. A 404 maps to model.ErrSaleNotFound so callers can
// treat a missing sale as a no-op.
func (c *Client) Get(ctx context.Context, saleID string) (*model.Sale, error) {
	body, err := c.do(ctx, "GET", "/api/v1/sales/"+saleID, nil)
	if err != nil {
		return nil, err
	}

	var resp saleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sale: %w", err)
	}

	sale := &model.Sale{ID: resp.ID, IsPaid: resp.IsPaid}
	for _, p := range resp.Payments {
		sale.Payments = append(sale.Payments, model.Payment{Method: p.Method, Amount: p.Amount})
	}
	return sale, nil
}

// UpdatePayments replaces the sale's payment split.
func (c *Client) UpdatePayments(ctx context.Context, saleID string, payments []model.Payment, isPaid bool) error {
	req := updatePaymentsRequest{IsPaid: isPaid, Payments: make([]salePaymentEntry, 0, len(payments))}
	for _, p := range payments {
		req.Payments = append(req.Payments, salePaymentEntry{Method: p.Method, Amount: p.Amount})
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal payments: %w", err)
	}

	_, err = c.do(ctx, "PUT", "/api/v1/sales/"+saleID+"/payments", reqBody)
	return err
}

func (c *Client) pick() (*endpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ep := range c.endpoints {
		if ep.available() {
			return ep, nil
		}
	}
	return nil, ErrNoAvailableEndpoints
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < len(c.endpoints)+1; attempt++ {
		ep, err := c.pick()
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		start := time.Now()
		result, err := c.doRequest(ctx, ep, method, path, body)
		if err == nil {
			ep.recordSuccess()
			return result, nil
		}
		// Not-found is an answer, not an endpoint failure.
		if errors.Is(err, model.ErrSaleNotFound) {
			ep.recordSuccess()
			return nil, err
		}

		c.recordFailure(ep)
		logger.Warn("Sales request failed",
			"endpoint", ep.name, "method", method, "path", path,
			"latency_ms", time.Since(start).Milliseconds(), "error", err)
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, ep *endpoint, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(ep.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := ep.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusAccepted, fasthttp.StatusNoContent:
	case fasthttp.StatusNotFound:
		return nil, model.ErrSaleNotFound
	default:
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

func (c *Client) recordFailure(ep *endpoint) {
	fails := ep.consecutiveFails.Add(1)
	if fails >= int32(c.config.BreakerThreshold) {
		ep.openUntil.Store(time.Now().Add(c.config.BreakerTimeout).Unix())
		logger.Warn("Sales endpoint breaker opened",
			"endpoint", ep.name, "consecutive_fails", fails, "timeout", c.config.BreakerTimeout)
	}
}
