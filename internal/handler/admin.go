package handler

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"stockhold-api/internal/service"
	"stockhold-api/pkg/apierror"
	"stockhold-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	stockService *service.StockService
	sweeper      *service.SweepScheduler
	storeType    string
	startTime    time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(stockService *service.StockService, sweeper *service.SweepScheduler, storeType string) *AdminHandler {
	return &AdminHandler{
		stockService: stockService,
		sweeper:      sweeper,
		storeType:    storeType,
		startTime:    time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	storeStats, err := h.stockService.StoreStats(r.Context())
	if err != nil {
		response.Error(w, translate(err))
		return
	}

	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType
	stats["store"] = storeStats

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// createProductRequest is the body for POST /admin/products.
type createProductRequest struct {
	Name   string `json:"name"`
	OnHand int64  `json:"on_hand"`
}

// CreateProduct handles POST /api/v1/admin/products: seeds a product row for
// fixtures and demo data.
func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	product, err := h.stockService.CreateProduct(r.Context(), req.Name, req.OnHand)
	if err != nil {
		response.Error(w, translate(err))
		return
	}
	response.Created(w, product)
}

// Sweep handles POST /api/v1/admin/sweep: reclaims expired reservations now.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	swept, err := h.sweeper.RunNow(time.Now())
	if err != nil {
		response.Error(w, translate(err))
		return
	}

	response.OK(w, map[string]interface{}{
		"count": swept,
	})
}
