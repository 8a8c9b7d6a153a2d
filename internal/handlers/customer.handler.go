package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/cantina/credit-ledger/internal/model"
	"github.com/cantina/credit-ledger/internal/repository"
	"github.com/cantina/credit-ledger/internal/services"
	xhttp "github.com/cantina/credit-ledger/pkg/http"
	"github.com/fasthttp/router"
)

type CustomerService interface {
	Create(ctx context.Context, req model.CustomerCreateRequest) (*model.Customer, error)
	Get(ctx context.Context, id int64) (*model.Customer, error)
	List(ctx context.Context) ([]*model.Customer, error)
	Update(ctx context.Context, id int64, req model.CustomerUpdateRequest) (*model.Customer, error)
	Delete(ctx context.Context, id int64) error
}

type CustomerHandler struct {
	svc CustomerService
}

func RegisterCustomerRoutes(e *router.Group, h *CustomerHandler) {
	e.POST("/customers", h.CreateCustomer)
	e.GET("/customers", h.ListCustomers)
	e.GET("/customers/{id}", h.GetCustomer)
	e.PATCH("/customers/{id}", h.UpdateCustomer)
	e.DELETE("/customers/{id}", h.DeleteCustomer)
}

func NewCustomerHandler(customerService CustomerService) *CustomerHandler {
	return &CustomerHandler{
		svc: customerService,
	}
}

type createCustomerRequest struct {
	Name           string   `json:"name"`
	InitialBalance float64  `json:"initial_balance"`
	CreditLimit    *float64 `json:"credit_limit"`
}

type updateCustomerRequest struct {
	Name           *string  `json:"name"`
	InitialBalance *float64 `json:"initial_balance"`
	CreditLimit    *float64 `json:"credit_limit"`
	ClearLimit     bool     `json:"clear_limit"`
}

type customerListResponse struct {
	Items []*model.Customer `json:"items"`
	Total int               `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *CustomerHandler) CreateCustomer(ctx *xhttp.RequestCtx) {
	var req createCustomerRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	c, err := h.svc.Create(ctx, model.CustomerCreateRequest{
		Name:           req.Name,
		InitialBalance: req.InitialBalance,
		CreditLimit:    req.CreditLimit,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, c)
}

func (h *CustomerHandler) GetCustomer(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	c, err := h.svc.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, c)
}

func (h *CustomerHandler) ListCustomers(ctx *xhttp.RequestCtx) {
	items, err := h.svc.List(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, customerListResponse{Items: items, Total: len(items)})
}

func (h *CustomerHandler) UpdateCustomer(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	var req updateCustomerRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	c, err := h.svc.Update(ctx, id, model.CustomerUpdateRequest{
		Name:           req.Name,
		InitialBalance: req.InitialBalance,
		CreditLimit:    req.CreditLimit,
		ClearLimit:     req.ClearLimit,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, c)
}

func (h *CustomerHandler) DeleteCustomer(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid customer id")
		return
	}

	if err := h.svc.Delete(ctx, id); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.Response.SetStatusCode(204)
}

/* -------------------------------- Helpers ----------------------------------- */

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto status codes: unknown ids are
// 404, bad input is 400, business refusals are 422, lost lock races that
// survived the retry budget are 409.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrCustomerNotFound):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrInvalidCustomerName):
		writeError(ctx, 400, err.Error())
	case errors.Is(err, services.ErrInsufficientBalance), errors.Is(err, services.ErrCreditLimitExceeded):
		writeError(ctx, 422, err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		writeError(ctx, 409, err.Error())
	default:
		writeError(ctx, 500, err.Error())
	}
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func actor(ctx *xhttp.RequestCtx) string {
	if v := string(ctx.Request.Header.Peek("X-Actor")); v != "" {
		return v
	}
	return "unknown"
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
