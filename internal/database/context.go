package database

import (
	"context"
	"time"
)

// Timeouts applied to repository calls.
const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	// DefaultBulkTimeout covers batch transactions and migrations.
	DefaultBulkTimeout = 30 * time.Second
)

// QueryContext bounds a read query.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// WriteContext bounds a single insert/update.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}

// BulkContext bounds a whole batch transaction.
func BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultBulkTimeout)
}
