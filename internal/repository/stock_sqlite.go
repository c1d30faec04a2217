package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"stockhold-api/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStockRepository implements StockRepository using SQLite.
// SQLite has a single writer, so the connection pool is capped at one
// connection and every read-then-write method runs in one transaction on it.
// That serializes racing reserve/commit calls without any application lock.
type SQLiteStockRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStockRepository creates a new SQLite stock repository.
// dbPath is the path to the SQLite database file (e.g., "./data/stock.db").
func NewSQLiteStockRepository(dbPath string) (*SQLiteStockRepository, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteStockRepository] Initialized with database: %s", dbPath)
	return &SQLiteStockRepository{db: db}, nil
}

// createSQLiteTables creates the stock tables. Timestamps are stored as unix
// nanoseconds so that expiry comparisons are exact integer comparisons.
func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		on_hand INTEGER NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reservations_session ON reservations(session_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_product_expiry ON reservations(product_id, expires_at);
	CREATE TABLE IF NOT EXISTS stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		delta INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		before_qty INTEGER NOT NULL,
		after_qty INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_movements_product ON stock_movements(product_id, id);
	`
	_, err := db.Exec(query)
	return err
}

// mapSQLiteErr translates driver busy errors into model.ErrBusy so callers
// can retry with backoff instead of seeing a raw driver string.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("sqlite lock wait: %w", model.ErrBusy)
	}
	return err
}

// CreateProduct inserts a product row with an initial on-hand quantity.
func (r *SQLiteStockRepository) CreateProduct(ctx context.Context, name string, onHand int64) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO products (name, on_hand, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		name, onHand, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", mapSQLiteErr(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read product id: %w", err)
	}

	return &model.Product{ID: id, Name: name, OnHand: onHand, CreatedAt: now, UpdatedAt: now}, nil
}

// GetProduct retrieves a product by ID.
func (r *SQLiteStockRepository) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var p model.Product
	var createdNs, updatedNs int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, on_hand, created_at, updated_at FROM products WHERE id = ?`,
		productID).Scan(&p.ID, &p.Name, &p.OnHand, &createdNs, &updatedNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", mapSQLiteErr(err))
	}

	p.CreatedAt = time.Unix(0, createdNs).UTC()
	p.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return &p, nil
}

// Availability computes the sellable quantity inside one transaction so the
// on-hand read and the held-sum read see the same snapshot.
func (r *SQLiteStockRepository) Availability(ctx context.Context, productID int64, now time.Time, excludeSession string) (*model.Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapSQLiteErr(err))
	}
	defer tx.Rollback()

	avail, err := sqliteAvailability(ctx, tx, productID, now, excludeSession)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", mapSQLiteErr(err))
	}
	return avail, nil
}

// sqliteAvailability reads on-hand and held quantities within the caller's
// transaction. Expired-but-unswept holds count as already vacated.
func sqliteAvailability(ctx context.Context, tx *sql.Tx, productID int64, now time.Time, excludeSession string) (*model.Availability, error) {
	var onHand int64
	err := tx.QueryRowContext(ctx, `SELECT on_hand FROM products WHERE id = ?`, productID).Scan(&onHand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to read on-hand stock: %w", mapSQLiteErr(err))
	}

	var held int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM reservations
		 WHERE product_id = ? AND expires_at > ? AND session_id != ?`,
		productID, now.UnixNano(), excludeSession).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("failed to sum reservations: %w", mapSQLiteErr(err))
	}

	return &model.Availability{ProductID: productID, OnHand: onHand, Sellable: onHand - held}, nil
}

// Reserve checks availability for every item and inserts the reservation rows
// in one transaction. SQLite's single writer serializes concurrent calls, so
// two sessions racing for the last unit cannot both pass the check.
func (r *SQLiteStockRepository) Reserve(ctx context.Context, sessionID string, items []model.ReserveItem, ttl time.Duration, now time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt := now.Add(ttl)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin transaction: %w", mapSQLiteErr(err))
	}
	defer tx.Rollback()

	// A session re-reserving a product replaces its earlier hold, so drop
	// those rows first; they are excluded from the availability sum anyway.
	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reservations WHERE session_id = ? AND product_id = ?`,
			sessionID, item.ProductID); err != nil {
			return time.Time{}, fmt.Errorf("failed to clear prior hold: %w", mapSQLiteErr(err))
		}
	}

	for _, item := range items {
		avail, err := sqliteAvailability(ctx, tx, item.ProductID, now, sessionID)
		if err != nil {
			return time.Time{}, err
		}
		if item.Quantity > avail.Sellable {
			return time.Time{}, &model.InsufficientStockError{
				ProductID: item.ProductID,
				Available: avail.Sellable,
				Requested: item.Quantity,
			}
		}
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reservations (product_id, quantity, session_id, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)`,
			item.ProductID, item.Quantity, sessionID, now.UnixNano(), expiresAt.UnixNano()); err != nil {
			return time.Time{}, fmt.Errorf("failed to insert reservation: %w", mapSQLiteErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit reservation: %w", mapSQLiteErr(err))
	}
	return expiresAt, nil
}

// ReleaseSession deletes all reservations owned by the session.
func (r *SQLiteStockRepository) ReleaseSession(ctx context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to release reservations: %w", mapSQLiteErr(err))
	}
	return result.RowsAffected()
}

// CommitSession converts the session's holds into sale movements atomically.
func (r *SQLiteStockRepository) CommitSession(ctx context.Context, sessionID, orderID, actorID string, now time.Time) ([]model.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapSQLiteErr(err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, product_id, quantity, expires_at FROM reservations
		 WHERE session_id = ? ORDER BY product_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations: %w", mapSQLiteErr(err))
	}

	var holds []model.Reservation
	for rows.Next() {
		var h model.Reservation
		var expiresNs int64
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Quantity, &expiresNs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		h.SessionID = sessionID
		h.ExpiresAt = time.Unix(0, expiresNs).UTC()
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", mapSQLiteErr(err))
	}

	if len(holds) == 0 {
		return nil, model.ErrNoReservations
	}

	// Validate every hold before touching stock. One lapsed hold fails the
	// whole commit; the sweeper will pick the expired rows up later.
	for _, h := range holds {
		if h.Expired(now) {
			return nil, &model.ReservationExpiredError{ProductID: h.ProductID, SessionID: sessionID}
		}
	}

	movements := make([]model.StockMovement, 0, len(holds))
	for _, h := range holds {
		var onHand int64
		if err := tx.QueryRowContext(ctx, `SELECT on_hand FROM products WHERE id = ?`, h.ProductID).Scan(&onHand); err != nil {
			return nil, fmt.Errorf("failed to read on-hand stock: %w", mapSQLiteErr(err))
		}

		after := onHand - h.Quantity
		if after < 0 {
			// A hold should never exceed on-hand stock, but the on_hand >= 0
			// invariant wins over completing the commit.
			return nil, &model.InvalidAdjustmentError{ProductID: h.ProductID, OnHand: onHand, Delta: -h.Quantity}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET on_hand = ?, updated_at = ? WHERE id = ?`,
			after, now.UnixNano(), h.ProductID); err != nil {
			return nil, fmt.Errorf("failed to update on-hand stock: %w", mapSQLiteErr(err))
		}

		m := model.StockMovement{
			ProductID: h.ProductID,
			Delta:     -h.Quantity,
			Kind:      model.KindSale,
			Reason:    "checkout commit",
			OrderID:   orderID,
			ActorID:   actorID,
			Before:    onHand,
			After:     after,
			CreatedAt: now,
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO stock_movements (product_id, delta, kind, reason, order_id, actor_id, before_qty, after_qty, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ProductID, m.Delta, m.Kind, m.Reason, m.OrderID, m.ActorID, m.Before, m.After, now.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("failed to append sale movement: %w", mapSQLiteErr(err))
		}
		m.ID, _ = result.LastInsertId()

		res, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete reservation: %w", mapSQLiteErr(err))
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if deleted != 1 {
			// The hold was released after the load above; rolling back keeps
			// a sale movement from being recorded for a vacated hold.
			return nil, model.ErrNoReservations
		}

		movements = append(movements, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sale: %w", mapSQLiteErr(err))
	}
	return movements, nil
}

// ApplyDelta applies a stock delta and appends the ledger entry atomically.
func (r *SQLiteStockRepository) ApplyDelta(ctx context.Context, productID, delta int64, kind model.MovementKind, reason, orderID, actorID string, clampToZero bool, now time.Time) (*model.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapSQLiteErr(err))
	}
	defer tx.Rollback()

	var onHand int64
	err = tx.QueryRowContext(ctx, `SELECT on_hand FROM products WHERE id = ?`, productID).Scan(&onHand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to read on-hand stock: %w", mapSQLiteErr(err))
	}

	applied := delta
	after := onHand + delta
	if after < 0 {
		if !clampToZero {
			return nil, &model.InvalidAdjustmentError{ProductID: productID, OnHand: onHand, Delta: delta}
		}
		after = 0
		applied = -onHand
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET on_hand = ?, updated_at = ? WHERE id = ?`,
		after, now.UnixNano(), productID); err != nil {
		return nil, fmt.Errorf("failed to update on-hand stock: %w", mapSQLiteErr(err))
	}

	m := model.StockMovement{
		ProductID: productID,
		Delta:     applied,
		Kind:      kind,
		Reason:    reason,
		OrderID:   orderID,
		ActorID:   actorID,
		Before:    onHand,
		After:     after,
		CreatedAt: now,
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO stock_movements (product_id, delta, kind, reason, order_id, actor_id, before_qty, after_qty, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProductID, m.Delta, m.Kind, m.Reason, m.OrderID, m.ActorID, m.Before, m.After, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to append movement: %w", mapSQLiteErr(err))
	}
	m.ID, _ = result.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", mapSQLiteErr(err))
	}
	return &m, nil
}

// Movements returns ledger entries for a product, newest first. The insert
// sequence is the commit order, so id descending is a stable cursor.
func (r *SQLiteStockRepository) Movements(ctx context.Context, productID int64, limit, offset int) ([]model.StockMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, productID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to check product: %w", mapSQLiteErr(err))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, delta, kind, reason, order_id, actor_id, before_qty, after_qty, created_at
		 FROM stock_movements WHERE product_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		productID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", mapSQLiteErr(err))
	}
	defer rows.Close()

	var movements []model.StockMovement
	for rows.Next() {
		var m model.StockMovement
		var createdNs int64
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.Kind, &m.Reason, &m.OrderID, &m.ActorID, &m.Before, &m.After, &createdNs); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdNs).UTC()
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// SweepExpired deletes reservations that lapsed before the captured instant.
// The bound excludes anything created after now, so a racing reserve is safe.
func (r *SQLiteStockRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", mapSQLiteErr(err))
	}

	swept, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		log.Printf("[SQLiteStockRepository] Swept %d expired reservations", swept)
	}
	return swept, nil
}

// Stats returns row counts and database size for the admin surface.
func (r *SQLiteStockRepository) Stats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]interface{})

	counts := map[string]string{
		"products":     "SELECT COUNT(*) FROM products",
		"reservations": "SELECT COUNT(*) FROM reservations",
		"movements":    "SELECT COUNT(*) FROM stock_movements",
	}
	for name, query := range counts {
		var count int64
		if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, err
		}
		stats[name] = count
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Close closes the database connection.
func (r *SQLiteStockRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteStockRepository implements StockRepository
var _ StockRepository = (*SQLiteStockRepository)(nil)
