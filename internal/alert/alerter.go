package alert

import "context"

// Alerter receives low-stock signals after a stock decrease. The core only
// emits the signal; formatting and delivery (email, dashboards) live in the
// consuming system.
type Alerter interface {
	// LowStock reports that a product's on-hand quantity dropped to or below
	// the configured threshold.
	LowStock(ctx context.Context, productID, remaining int64) error
}
