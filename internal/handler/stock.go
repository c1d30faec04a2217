package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"stockhold-api/internal/model"
	"stockhold-api/internal/service"
	"stockhold-api/pkg/apierror"
	"stockhold-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// StockHandler handles stock and reservation HTTP requests.
type StockHandler struct {
	stockService *service.StockService
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(stockService *service.StockService) *StockHandler {
	return &StockHandler{
		stockService: stockService,
	}
}

// translate maps domain errors to API errors. Raw store errors never reach
// the client.
func translate(err error) *apierror.Error {
	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		return apierror.ValidationError(vErr.Message,
			apierror.FieldError{Field: vErr.Field, Message: vErr.Message})
	}

	var insErr *model.InsufficientStockError
	if errors.As(err, &insErr) {
		return apierror.InsufficientStock(insErr.Error()).WithMeta(map[string]interface{}{
			"product_id": insErr.ProductID,
			"available":  insErr.Available,
			"requested":  insErr.Requested,
		})
	}

	var expErr *model.ReservationExpiredError
	if errors.As(err, &expErr) {
		return apierror.ReservationExpired(expErr.Error()).WithMeta(map[string]interface{}{
			"product_id": expErr.ProductID,
		})
	}

	var adjErr *model.InvalidAdjustmentError
	if errors.As(err, &adjErr) {
		return apierror.InvalidAdjustment(adjErr.Error()).WithMeta(map[string]interface{}{
			"product_id": adjErr.ProductID,
			"on_hand":    adjErr.OnHand,
			"delta":      adjErr.Delta,
		})
	}

	switch {
	case errors.Is(err, model.ErrProductNotFound):
		return apierror.NotFound("product not found")
	case errors.Is(err, model.ErrNoReservations):
		return apierror.NotFound("no active reservations for session")
	case errors.Is(err, model.ErrBusy):
		return apierror.Busy("")
	case errors.Is(err, model.ErrStoreUnavailable):
		return apierror.ServiceUnavailable("stock store unavailable")
	}
	return apierror.InternalError("")
}

// productIDParam parses the product ID from the URL.
func productIDParam(r *http.Request) (int64, *apierror.Error) {
	raw := chi.URLParam(r, "productID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.BadRequest("productID must be a positive integer")
	}
	return id, nil
}

// Sellable handles GET /api/v1/stock/{productID}
func (h *StockHandler) Sellable(w http.ResponseWriter, r *http.Request) {
	productID, apiErr := productIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	avail, err := h.stockService.Sellable(r.Context(), productID)
	if err != nil {
		response.Error(w, translate(err))
		return
	}
	response.OK(w, avail)
}

// checkStockRequest is the body for POST /stock/check.
type checkStockRequest struct {
	Items []model.ReserveItem `json:"items"`
}

// CheckStock handles POST /api/v1/stock/check
func (h *StockHandler) CheckStock(w http.ResponseWriter, r *http.Request) {
	var req checkStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	checks, allAvailable, err := h.stockService.CheckStock(r.Context(), req.Items)
	if err != nil {
		response.Error(w, translate(err))
		return
	}

	response.OK(w, map[string]interface{}{
		"all_available": allAvailable,
		"checks":        checks,
	})
}

// reserveRequest is the body for POST /stock/reserve.
type reserveRequest struct {
	SessionID  string              `json:"session_id"`
	Items      []model.ReserveItem `json:"items"`
	TTLSeconds int64               `json:"ttl_seconds"`
}

// Reserve handles POST /api/v1/stock/reserve
func (h *StockHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	expiresAt, err := h.stockService.Reserve(r.Context(), req.SessionID, req.Items,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		response.Error(w, translate(err))
		return
	}

	response.OK(w, map[string]interface{}{
		"session_id": req.SessionID,
		"expires_at": expiresAt.UTC(),
	})
}

// sessionRequest is the body for release and commit calls.
type sessionRequest struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	ActorID   string `json:"actor_id"`
}

// Release handles POST /api/v1/stock/release
func (h *StockHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	released, err := h.stockService.Release(r.Context(), req.SessionID)
	if err != nil {
		response.Error(w, translate(err))
		return
	}

	response.OK(w, map[string]interface{}{
		"released": true,
		"count":    released,
	})
}

// Commit handles POST /api/v1/stock/commit
func (h *StockHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	movements, err := h.stockService.Commit(r.Context(), req.SessionID, req.OrderID, req.ActorID)
	if err != nil {
		response.Error(w, translate(err))
		return
	}

	response.OK(w, map[string]interface{}{
		"order_id":  req.OrderID,
		"movements": movements,
	})
}

// adjustRequest is the body for POST /stock/{productID}/adjust.
type adjustRequest struct {
	Delta   int64  `json:"delta"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	OrderID string `json:"order_id"`
	ActorID string `json:"actor_id"`
}

// AdjustStock handles POST /api/v1/stock/{productID}/adjust
func (h *StockHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	productID, apiErr := productIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if req.Kind == "" {
		req.Kind = string(model.KindManualAdjustment)
	}
	if req.Reason == "" {
		req.Reason = "manual stock update"
	}

	movement, err := h.stockService.AdjustStock(r.Context(), productID, req.Delta,
		model.MovementKind(req.Kind), req.Reason, req.OrderID, req.ActorID)
	if err != nil {
		response.Error(w, translate(err))
		return
	}
	response.OK(w, map[string]interface{}{"movement": movement})
}

// Movements handles GET /api/v1/stock/{productID}/movements
func (h *StockHandler) Movements(w http.ResponseWriter, r *http.Request) {
	productID, apiErr := productIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	movements, err := h.stockService.Movements(r.Context(), productID, limit, offset)
	if err != nil {
		response.Error(w, translate(err))
		return
	}

	if limit <= 0 {
		limit = service.DefaultMovementLimit
	}
	response.JSONWithMeta(w, http.StatusOK,
		map[string]interface{}{"movements": movements},
		limit, offset, len(movements))
}
