package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"stockhold-api/internal/model"

	"github.com/go-sql-driver/mysql"
)

// MySQLStockRepository implements StockRepository on MySQL/InnoDB.
// Per-product exclusion is a SELECT ... FOR UPDATE row lock, the same shape
// as the Postgres backend; lock waits bounded by innodb_lock_wait_timeout
// surface as model.ErrBusy.
type MySQLStockRepository struct {
	db *sql.DB
}

// NewMySQLStockRepository creates a new MySQL stock repository.
// The DSN must include parseTime=true so DATETIME columns scan into time.Time.
func NewMySQLStockRepository(dsn string) (*MySQLStockRepository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if err := createMySQLTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[MySQLStockRepository] Initialized with pool: max=%d, idle=%d", 25, 10)
	return &MySQLStockRepository{db: db}, nil
}

// createMySQLTables creates the stock tables. Statements run one at a time:
// the driver rejects multi-statement Exec by default.
func createMySQLTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			on_hand BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			product_id BIGINT NOT NULL,
			quantity BIGINT NOT NULL,
			session_id VARCHAR(255) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			expires_at DATETIME(6) NOT NULL,
			INDEX idx_reservations_session (session_id),
			INDEX idx_reservations_product_expiry (product_id, expires_at),
			CONSTRAINT fk_reservations_product FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			product_id BIGINT NOT NULL,
			delta BIGINT NOT NULL,
			kind VARCHAR(64) NOT NULL,
			reason TEXT,
			order_id VARCHAR(255) NOT NULL DEFAULT '',
			actor_id VARCHAR(255) NOT NULL DEFAULT '',
			before_qty BIGINT NOT NULL,
			after_qty BIGINT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_movements_product (product_id, id),
			CONSTRAINT fk_movements_product FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// mapMySQLErr translates lock-wait and connection failures into the domain's
// transient error types.
func mapMySQLErr(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return fmt.Errorf("mysql lock wait: %w", model.ErrBusy)
		}
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("mysql connection: %w", model.ErrStoreUnavailable)
	}
	return err
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// lockProductsMySQL takes FOR UPDATE locks on the given product rows in id
// order and returns their on-hand quantities.
func lockProductsMySQL(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]int64, error) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT id, on_hand FROM products WHERE id IN (%s) ORDER BY id FOR UPDATE`,
		placeholders(len(ids)))
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock product rows: %w", mapMySQLErr(err))
	}
	defer rows.Close()

	onHand := make(map[int64]int64, len(ids))
	for rows.Next() {
		var id, qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		onHand[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product rows: %w", mapMySQLErr(err))
	}

	for _, id := range ids {
		if _, ok := onHand[id]; !ok {
			return nil, model.ErrProductNotFound
		}
	}
	return onHand, nil
}

// CreateProduct inserts a product row with an initial on-hand quantity.
func (r *MySQLStockRepository) CreateProduct(ctx context.Context, name string, onHand int64) (*model.Product, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO products (name, on_hand, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		name, onHand, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", mapMySQLErr(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read product id: %w", err)
	}
	return &model.Product{ID: id, Name: name, OnHand: onHand, CreatedAt: now, UpdatedAt: now}, nil
}

// GetProduct retrieves a product by ID.
func (r *MySQLStockRepository) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	var p model.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, on_hand, created_at, updated_at FROM products WHERE id = ?`,
		productID).Scan(&p.ID, &p.Name, &p.OnHand, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", mapMySQLErr(err))
	}
	return &p, nil
}

// Availability computes the sellable quantity in a single statement.
func (r *MySQLStockRepository) Availability(ctx context.Context, productID int64, now time.Time, excludeSession string) (*model.Availability, error) {
	var a model.Availability
	err := r.db.QueryRowContext(ctx,
		`SELECT p.id, p.on_hand,
		        p.on_hand - COALESCE((
		            SELECT SUM(quantity) FROM reservations
		            WHERE product_id = p.id AND expires_at > ? AND session_id != ?
		        ), 0)
		 FROM products p WHERE p.id = ?`,
		now, excludeSession, productID).Scan(&a.ProductID, &a.OnHand, &a.Sellable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to read availability: %w", mapMySQLErr(err))
	}
	return &a, nil
}

// Reserve locks the product rows, re-validates availability under the lock
// and inserts the holds, all in one transaction.
func (r *MySQLStockRepository) Reserve(ctx context.Context, sessionID string, items []model.ReserveItem, ttl time.Duration, now time.Time) (time.Time, error) {
	expiresAt := now.Add(ttl)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin transaction: %w", mapMySQLErr(err))
	}
	defer tx.Rollback()

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	onHand, err := lockProductsMySQL(ctx, tx, ids)
	if err != nil {
		return time.Time{}, err
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reservations WHERE session_id = ? AND product_id = ?`,
			sessionID, item.ProductID); err != nil {
			return time.Time{}, fmt.Errorf("failed to clear prior hold: %w", mapMySQLErr(err))
		}
	}

	for _, item := range items {
		var held int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(quantity), 0) FROM reservations
			 WHERE product_id = ? AND expires_at > ? AND session_id != ?`,
			item.ProductID, now, sessionID).Scan(&held)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to sum reservations: %w", mapMySQLErr(err))
		}

		sellable := onHand[item.ProductID] - held
		if item.Quantity > sellable {
			return time.Time{}, &model.InsufficientStockError{
				ProductID: item.ProductID,
				Available: sellable,
				Requested: item.Quantity,
			}
		}
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reservations (product_id, quantity, session_id, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)`,
			item.ProductID, item.Quantity, sessionID, now, expiresAt); err != nil {
			return time.Time{}, fmt.Errorf("failed to insert reservation: %w", mapMySQLErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit reservation: %w", mapMySQLErr(err))
	}
	return expiresAt, nil
}

// ReleaseSession deletes all reservations owned by the session.
func (r *MySQLStockRepository) ReleaseSession(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to release reservations: %w", mapMySQLErr(err))
	}
	return result.RowsAffected()
}

// CommitSession converts the session's holds into sale movements atomically.
func (r *MySQLStockRepository) CommitSession(ctx context.Context, sessionID, orderID, actorID string, now time.Time) ([]model.StockMovement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapMySQLErr(err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, product_id, quantity, expires_at FROM reservations
		 WHERE session_id = ? ORDER BY product_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations: %w", mapMySQLErr(err))
	}

	var holds []model.Reservation
	for rows.Next() {
		var h model.Reservation
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Quantity, &h.ExpiresAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		h.SessionID = sessionID
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", mapMySQLErr(err))
	}

	if len(holds) == 0 {
		return nil, model.ErrNoReservations
	}
	for _, h := range holds {
		if h.Expired(now) {
			return nil, &model.ReservationExpiredError{ProductID: h.ProductID, SessionID: sessionID}
		}
	}

	ids := make([]int64, len(holds))
	for i, h := range holds {
		ids[i] = h.ProductID
	}
	onHand, err := lockProductsMySQL(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	movements := make([]model.StockMovement, 0, len(holds))
	for _, h := range holds {
		before := onHand[h.ProductID]
		after := before - h.Quantity
		if after < 0 {
			return nil, &model.InvalidAdjustmentError{ProductID: h.ProductID, OnHand: before, Delta: -h.Quantity}
		}
		onHand[h.ProductID] = after

		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET on_hand = ?, updated_at = ? WHERE id = ?`,
			after, now, h.ProductID); err != nil {
			return nil, fmt.Errorf("failed to update on-hand stock: %w", mapMySQLErr(err))
		}

		m := model.StockMovement{
			ProductID: h.ProductID,
			Delta:     -h.Quantity,
			Kind:      model.KindSale,
			Reason:    "checkout commit",
			OrderID:   orderID,
			ActorID:   actorID,
			Before:    before,
			After:     after,
			CreatedAt: now,
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO stock_movements (product_id, delta, kind, reason, order_id, actor_id, before_qty, after_qty, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ProductID, m.Delta, m.Kind, m.Reason, m.OrderID, m.ActorID, m.Before, m.After, now)
		if err != nil {
			return nil, fmt.Errorf("failed to append sale movement: %w", mapMySQLErr(err))
		}
		m.ID, _ = result.LastInsertId()

		res, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete reservation: %w", mapMySQLErr(err))
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
		return nil, fmt.Errorf("failed to commit sale: %w", mapMySQLErr(err))
	}
	return movements, nil
}

// ApplyDelta applies a stock delta and appends the ledger entry atomically.
func (r *MySQLStockRepository) ApplyDelta(ctx context.Context, productID, delta int64, kind model.MovementKind, reason, orderID, actorID string, clampToZero bool, now time.Time) (*model.StockMovement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapMySQLErr(err))
	}
	defer tx.Rollback()

	onHand, err := lockProductsMySQL(ctx, tx, []int64{productID})
	if err != nil {
		return nil, err
	}
	before := onHand[productID]

	applied := delta
	after := before + delta
	if after < 0 {
		if !clampToZero {
			return nil, &model.InvalidAdjustmentError{ProductID: productID, OnHand: before, Delta: delta}
		}
		after = 0
		applied = -before
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET on_hand = ?, updated_at = ? WHERE id = ?`,
		after, now, productID); err != nil {
		return nil, fmt.Errorf("failed to update on-hand stock: %w", mapMySQLErr(err))
	}

	m := model.StockMovement{
		ProductID: productID,
		Delta:     applied,
		Kind:      kind,
		Reason:    reason,
		OrderID:   orderID,
		ActorID:   actorID,
		Before:    before,
		After:     after,
		CreatedAt: now,
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO stock_movements (product_id, delta, kind, reason, order_id, actor_id, before_qty, after_qty, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProductID, m.Delta, m.Kind, m.Reason, m.OrderID, m.ActorID, m.Before, m.After, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append movement: %w", mapMySQLErr(err))
	}
	m.ID, _ = result.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", mapMySQLErr(err))
	}
	return &m, nil
}

// Movements returns ledger entries for a product, newest first.
func (r *MySQLStockRepository) Movements(ctx context.Context, productID int64, limit, offset int) ([]model.StockMovement, error) {
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, productID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to check product: %w", mapMySQLErr(err))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, delta, kind, reason, order_id, actor_id, before_qty, after_qty, created_at
		 FROM stock_movements WHERE product_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		productID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", mapMySQLErr(err))
	}
	defer rows.Close()

	var movements []model.StockMovement
	for rows.Next() {
		var m model.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.Kind, &m.Reason, &m.OrderID, &m.ActorID, &m.Before, &m.After, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// SweepExpired deletes reservations that lapsed before the captured instant.
func (r *MySQLStockRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", mapMySQLErr(err))
	}

	swept, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		log.Printf("[MySQLStockRepository] Swept %d expired reservations", swept)
	}
	return swept, nil
}

// Stats returns row counts for the admin surface.
func (r *MySQLStockRepository) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := map[string]string{
		"products":     "SELECT COUNT(*) FROM products",
		"reservations": "SELECT COUNT(*) FROM reservations",
		"movements":    "SELECT COUNT(*) FROM stock_movements",
	}
	for name, query := range counts {
		var count int64
		if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, mapMySQLErr(err)
		}
		stats[name] = count
	}
	return stats, nil
}

// Close closes the database connection.
func (r *MySQLStockRepository) Close() error {
	return r.db.Close()
}

// Ensure MySQLStockRepository implements StockRepository
var _ StockRepository = (*MySQLStockRepository)(nil)
