package alert

import (
	"context"
	"log"
)

// LogAlerter writes low-stock signals to the process log. The default when no
// out-of-band channel is configured.
type LogAlerter struct{}

// NewLogAlerter creates a log-backed alerter.
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// LowStock logs the signal.
func (a *LogAlerter) LowStock(ctx context.Context, productID, remaining int64) error {
	log.Printf("[LowStockAlert] product %d down to %d units", productID, remaining)
	return nil
}

// Ensure LogAlerter implements Alerter
var _ Alerter = (*LogAlerter)(nil)
