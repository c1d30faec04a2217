package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"stockhold-api/internal/alert"
	"stockhold-api/internal/cache"
	"stockhold-api/internal/model"
	"stockhold-api/internal/repository"
)

// Movement listing bounds; the default matches the admin UI page size.
const (
	DefaultMovementLimit = 50
	MaxMovementLimit     = 200
)

// Options configures a StockService. Zero values fall back to defaults.
type Options struct {
	Alerter           alert.Alerter
	Cache             cache.Cache
	CacheTTL          time.Duration
	LowStockThreshold int64
	DefaultTTL        time.Duration
	MaxTTL            time.Duration

	// Now overrides the clock; tests inject a fixed instant here.
	Now func() time.Time
}

// StockService is the reservation manager and stock mutator. All
// check-then-write sequences are delegated to the repository, which runs them
// inside a single transaction; this layer validates input before any store
// access, keeps the read cache coherent and emits low-stock signals.
type StockService struct {
	repo              repository.StockRepository
	alerter           alert.Alerter
	cache             cache.Cache
	cacheTTL          time.Duration
	lowStockThreshold int64
	defaultTTL        time.Duration
	maxTTL            time.Duration
	now               func() time.Time
}

// NewStockService creates a new stock service.
// Returns nil if repo is nil (required dependency).
func NewStockService(repo repository.StockRepository, opts Options) *StockService {
	if repo == nil {
		return nil
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 5 * time.Second
	}
	if opts.LowStockThreshold == 0 {
		opts.LowStockThreshold = 5
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = 15 * time.Minute
	}
	if opts.MaxTTL == 0 {
		opts.MaxTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &StockService{
		repo:              repo,
		alerter:           opts.Alerter,
		cache:             opts.Cache,
		cacheTTL:          opts.CacheTTL,
		lowStockThreshold: opts.LowStockThreshold,
		defaultTTL:        opts.DefaultTTL,
		maxTTL:            opts.MaxTTL,
		now:               opts.Now,
	}
}

func sellableKey(productID int64) string {
	return fmt.Sprintf("sellable:%d", productID)
}

// CreateProduct seeds a product row. Catalog management proper lives outside
// this service; this exists to bootstrap fixtures and demo data.
func (s *StockService) CreateProduct(ctx context.Context, name string, onHand int64) (*model.Product, error) {
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if onHand < 0 {
		return nil, &model.ValidationError{Field: "on_hand", Message: "must not be negative"}
	}
	return s.repo.CreateProduct(ctx, name, onHand)
}

// StoreStats returns store row counts for the admin surface.
func (s *StockService) StoreStats(ctx context.Context) (map[string]interface{}, error) {
	return s.repo.Stats(ctx)
}

// Sellable returns the product's on-hand and sellable quantities. Reads may
// be served from the short-TTL cache; the reserve path never consults it.
func (s *StockService) Sellable(ctx context.Context, productID int64) (*model.Availability, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, sellableKey(productID)); err == nil {
			var avail model.Availability
			if err := json.Unmarshal(data, &avail); err == nil {
				return &avail, nil
			}
		}
	}

	avail, err := s.repo.Availability(ctx, productID, s.now(), "")
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(avail); err == nil {
			_ = s.cache.Set(ctx, sellableKey(productID), data, s.cacheTTL)
		}
	}
	return avail, nil
}

// CheckStock evaluates a batch of requested quantities without holding any
// stock. Always reads the store directly.
func (s *StockService) CheckStock(ctx context.Context, items []model.ReserveItem) ([]model.StockCheck, bool, error) {
	if err := validateItems(items); err != nil {
		return nil, false, err
	}

	now := s.now()
	checks := make([]model.StockCheck, 0, len(items))
	allAvailable := true
	for _, item := range items {
		avail, err := s.repo.Availability(ctx, item.ProductID, now, "")
		if err != nil {
			return nil, false, err
		}
		check := model.StockCheck{
			ProductID: item.ProductID,
			Requested: item.Quantity,
			Sellable:  avail.Sellable,
			Available: item.Quantity <= avail.Sellable,
		}
		if !check.Available {
			allAvailable = false
		}
		checks = append(checks, check)
	}
	return checks, allAvailable, nil
}

// Reserve holds stock for a checkout session. All-or-nothing across the item
// list; duplicate product lines are merged before the store sees them.
func (s *StockService) Reserve(ctx context.Context, sessionID string, items []model.ReserveItem, ttl time.Duration) (time.Time, error) {
	if sessionID == "" {
		return time.Time{}, &model.ValidationError{Field: "session_id", Message: "must not be empty"}
	}
	if err := validateItems(items); err != nil {
		return time.Time{}, err
	}
	if ttl < 0 {
		return time.Time{}, &model.ValidationError{Field: "ttl", Message: "must not be negative"}
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	merged := mergeItems(items)

	expiresAt, err := s.repo.Reserve(ctx, sessionID, merged, ttl, s.now())
	if err != nil {
		return time.Time{}, err
	}

	s.invalidate(ctx, merged)
	return expiresAt, nil
}

// Release drops every hold owned by the session. Idempotent: releasing a
// session that holds nothing is a no-op, not an error.
func (s *StockService) Release(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, &model.ValidationError{Field: "session_id", Message: "must not be empty"}
	}
	return s.repo.ReleaseSession(ctx, sessionID)
}

// Commit converts the session's holds into sale movements. The whole commit
// succeeds or fails as a unit; a single expired hold rejects everything.
func (s *StockService) Commit(ctx context.Context, sessionID, orderID, actorID string) ([]model.StockMovement, error) {
	if sessionID == "" {
		return nil, &model.ValidationError{Field: "session_id", Message: "must not be empty"}
	}
	if orderID == "" {
		return nil, &model.ValidationError{Field: "order_id", Message: "must not be empty"}
	}

	movements, err := s.repo.CommitSession(ctx, sessionID, orderID, actorID, s.now())
	if err != nil {
		return nil, err
	}

	for _, m := range movements {
		if s.cache != nil {
			_ = s.cache.Delete(ctx, sellableKey(m.ProductID))
		}
		s.notifyLowStock(ctx, m)
	}
	return movements, nil
}

// AdjustStock applies an administrative stock delta with a ledger entry.
// Manual decreases clamp at zero; every other kind rejects a delta that
// would drive on-hand stock negative.
func (s *StockService) AdjustStock(ctx context.Context, productID, delta int64, kind model.MovementKind, reason, orderID, actorID string) (*model.StockMovement, error) {
	if !kind.Valid() {
		return nil, &model.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown movement kind %q", kind)}
	}
	if delta == 0 {
		return nil, &model.ValidationError{Field: "delta", Message: "must not be zero"}
	}

	clampToZero := kind == model.KindManualAdjustment && delta < 0

	movement, err := s.repo.ApplyDelta(ctx, productID, delta, kind, reason, orderID, actorID, clampToZero, s.now())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, sellableKey(productID))
	}
	s.notifyLowStock(ctx, *movement)
	return movement, nil
}

// Movements returns the product's ledger, newest first. limit <= 0 falls
// back to the default page size.
func (s *StockService) Movements(ctx context.Context, productID int64, limit, offset int) ([]model.StockMovement, error) {
	if limit <= 0 {
		limit = DefaultMovementLimit
	}
	if limit > MaxMovementLimit {
		limit = MaxMovementLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.Movements(ctx, productID, limit, offset)
}

// SweepExpired removes lapsed reservations. A zero now uses the service
// clock; passing an explicit instant supports the admin endpoint and tests.
func (s *StockService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = s.now()
	}
	return s.repo.SweepExpired(ctx, now)
}

// notifyLowStock emits a signal when a decrease lands at or below the
// threshold. Alert failures are logged, never propagated: the stock write
// already happened.
func (s *StockService) notifyLowStock(ctx context.Context, m model.StockMovement) {
	if s.alerter == nil || m.Delta >= 0 || m.After > s.lowStockThreshold {
		return
	}
	if err := s.alerter.LowStock(ctx, m.ProductID, m.After); err != nil {
		log.Printf("[StockService] low-stock alert for product %d failed: %v", m.ProductID, err)
	}
}

// invalidate drops cached availability for the touched products.
func (s *StockService) invalidate(ctx context.Context, items []model.ReserveItem) {
	if s.cache == nil {
		return
	}
	for _, item := range items {
		_ = s.cache.Delete(ctx, sellableKey(item.ProductID))
	}
}

// validateItems rejects empty batches and non-positive quantities before any
// store access.
func validateItems(items []model.ReserveItem) error {
	if len(items) == 0 {
		return &model.ValidationError{Field: "items", Message: "must not be empty"}
	}
	for _, item := range items {
		if item.ProductID <= 0 {
			return &model.ValidationError{Field: "product_id", Message: "must be positive"}
		}
		if item.Quantity < 1 {
			return &model.ValidationError{Field: "quantity", Message: "must be at least 1"}
		}
	}
	return nil
}

// mergeItems folds duplicate product lines together and sorts by product ID.
// The sorted order keeps row locking deterministic across backends.
func mergeItems(items []model.ReserveItem) []model.ReserveItem {
	byProduct := make(map[int64]int64, len(items))
	for _, item := range items {
		byProduct[item.ProductID] += item.Quantity
	}

	merged := make([]model.ReserveItem, 0, len(byProduct))
	for id, qty := range byProduct {
		merged = append(merged, model.ReserveItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}
