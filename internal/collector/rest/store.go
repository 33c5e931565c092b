package rest

import (
	"context"

	"github.com/watchdogd/watchdogd/internal/store"
)

// Store is the subset of store.Store methods used by the REST handlers.
// Defining an interface allows handlers to be tested with a mock store
// without a live PostgreSQL connection.
type Store interface {
	// QueryReports returns profile reports matching the given filter and
	// pagination params.
	QueryReports(ctx context.Context, q store.ReportQuery) ([]store.ProfileReport, error)

	// ListHosts returns all registered hosts ordered alphabetically by
	// hostname.
	ListHosts(ctx context.Context) ([]store.Host, error)

	// UpsertHost inserts or updates a host record and returns the
	// effective host_id persisted in the database.
	UpsertHost(ctx context.Context, h store.Host) (string, error)

	// BatchInsertReports enqueues r for deferred batch insertion.
	BatchInsertReports(ctx context.Context, r store.ProfileReport) error
}
