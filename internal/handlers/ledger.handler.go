package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/services"
	xhttp "github.com/cantina/credit-ledger/pkg/http"
	"github.com/cantina/credit-ledger/pkg/prom"
	"github.com/fasthttp/router"
)

type LedgerService interface {
	Deposit(ctx context.Context, customerID int64, amount float64, method, actor string) (*model.Transaction, error)
	Withdraw(ctx context.Context, customerID int64, amount float64, method, actor string) (*model.Transaction, error)
	RecordPurchase(ctx context.Context, customerID int64, amount float64, saleID string, actor string) (*model.Transaction, error)
	RecordRefund(ctx context.Context, customerID int64, amount float64, saleID string, actor string) (*model.Transaction, error)
	Balance(ctx context.Context, customerID int64) (float64, error)
	History(ctx context.Context, customerID int64, f model.TransactionFilter) ([]*model.TransactionWithBalance, int64, error)
}

type ReconcileService interface {
	Reconcile(ctx context.Context, customerID int64) (*services.ReconcileResult, error)
	ReconcileAll(ctx context.Context) (*services.ReconcileReport, error)
}

type AuditLog interface {
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]*model.AuditEntry, error)
}

type LedgerHandler struct {
	svc       LedgerService
	reconcile ReconcileService
	audit     AuditLog
}

func RegisterLedgerRoutes(e *router.Group, h *LedgerHandler) {
	e.POST("/customers/{id}/deposits", h.CreateDeposit)
	e.POST("/customers/{id}/withdrawals", h.CreateWithdrawal)
	e.POST("/customers/{id}/purchases", h.CreatePurchase)
	e.POST("/customers/{id}/refunds", h.CreateRefund)
	e.GET("/customers/{id}/balance", h.GetBalance)
	e.GET("/customers/{id}/history", h.GetHistory)
	e.GET("/customers/{id}/audit", h.GetAuditLog)
	e.POST("/customers/{id}/reconcile", h.ReconcileCustomer)
	e.POST("/reconcile", h.ReconcileAll)
}

func NewLedgerHandler(ledgerService LedgerService, reconcileService ReconcileService, audit AuditLog) *LedgerHandler {
	return &LedgerHandler{
		svc:       ledgerService,
		reconcile: reconcileService,
		audit:     audit,
	}
}

type fundsRequest struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

type purchaseRequest struct {
	Amount float64 `json:"amount"`
	SaleID string  `json:"sale_id"`
}

type balanceResponse struct {
	CustomerID int64   `json:"customer_id"`
	Balance    float64 `json:"balance"`
}

type historyResponse struct {
	Items []*model.TransactionWithBalance `json:"items"`
	Total int64                           `json:"total"`
}

type auditLogResponse struct {
	Items []*model.AuditEntry `json:"items"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *LedgerHandler) CreateDeposit(ctx *xhttp.RequestCtx) {
	h.createFunds(ctx, "deposit", h.svc.Deposit)
}

func (h *LedgerHandler) CreateWithdrawal(ctx *xhttp.RequestCtx) {
	h.createFunds(ctx, "withdrawal", h.svc.Withdraw)
}

func (h *LedgerHandler) createFunds(ctx *xhttp.RequestCtx, op string,
	fn func(context.Context, int64, float64, string, string) (*model.Transaction, error)) {

	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	var req fundsRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Method == "" {
		req.Method = model.PaymentMethodCash
	}

	txn, err := fn(ctx, id, req.Amount, req.Method, actor(ctx))
	if err != nil {
		prom.LedgerOperation(op, "error")
		writeServiceError(ctx, err)
		return
	}
	prom.LedgerOperation(op, "ok")
	writeJSON(ctx, 201, txn)
}

func (h *LedgerHandler) CreatePurchase(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	var req purchaseRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	txn, err := h.svc.RecordPurchase(ctx, id, req.Amount, req.SaleID, actor(ctx))
	if err != nil {
		prom.LedgerOperation("purchase", "error")
		writeServiceError(ctx, err)
		return
	}
	prom.LedgerOperation("purchase", "ok")
	writeJSON(ctx, 201, txn)
}

func (h *LedgerHandler) CreateRefund(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	var req purchaseRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	txn, err := h.svc.RecordRefund(ctx, id, req.Amount, req.SaleID, actor(ctx))
	if err != nil {
		prom.LedgerOperation("refund", "error")
		writeServiceError(ctx, err)
		return
	}
	prom.LedgerOperation("refund", "ok")
	writeJSON(ctx, 201, txn)
}

func (h *LedgerHandler) GetBalance(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	balance, err := h.svc.Balance(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, balanceResponse{CustomerID: id, Balance: balance})
}

func (h *LedgerHandler) GetHistory(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	var f model.TransactionFilter
	if v := query(ctx, "type"); v != "" {
		tt := model.TransactionType(v)
		f.Type = &tt
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.History(ctx, id, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, historyResponse{Items: items, Total: total})
}

func (h *LedgerHandler) GetAuditLog(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	limit := 50
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			limit = n
		}
	}

	items, err := h.audit.ListByCustomer(ctx, id, limit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, auditLogResponse{Items: items})
}

func (h *LedgerHandler) ReconcileCustomer(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	res, err := h.reconcile.Reconcile(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, res)
}

func (h *LedgerHandler) ReconcileAll(ctx *xhttp.RequestCtx) {
	report, err := h.reconcile.ReconcileAll(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, report)
}
