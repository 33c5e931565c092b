package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of report rows held in-memory
	// before an automatic flush is triggered.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending reports even when the batch has not yet reached
	// DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond
)

// Store is the PostgreSQL-backed storage layer for the watchdog-collectord
// dashboard.
//
// Report ingestion is batched: callers enqueue individual ProfileReport
// values via BatchInsertReports, which accumulates them in memory and
// flushes to the database either when the buffer reaches batchSize or when
// the background ticker fires, whichever comes first. All other operations
// (hosts) are executed immediately.
type Store struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []ProfileReport
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to connStr, pings the database, and starts
// the background flush goroutine.
//
// batchSize <= 0 is replaced with DefaultBatchSize.
// flushInterval <= 0 is replaced with DefaultFlushInterval.
func New(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	s := &Store{
		pool:          pool,
		batch:         make([]ProfileReport, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the background flush goroutine, flushes any remaining
// buffered reports, and closes the connection pool. It is safe to call
// Close more than once; subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
		<-s.doneCh
		// Best-effort final flush; errors are not propagated on close.
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

// flushLoop is the background goroutine that ticks on flushInterval and
// calls Flush. It exits when stopCh is closed.
func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// BatchInsertReports enqueues r for deferred batch insertion.
//
// If the internal buffer reaches batchSize after appending, Flush is called
// synchronously before returning so that the caller observes back-pressure
// rather than unbounded memory growth.
func (s *Store) BatchInsertReports(ctx context.Context, r ProfileReport) error {
	s.mu.Lock()
	s.batch = append(s.batch, r)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current report buffer and sends all rows to PostgreSQL
// in a single pgx.Batch round-trip. Rows that conflict on the primary key
// are silently ignored (idempotent replay support).
//
// Flush is safe to call concurrently: a mutex swap ensures each call drains
// a distinct snapshot of the buffer.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]ProfileReport, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO profile_reports
			(report_id, host_id, profile_name, phase, timestamp, detail, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		r := &toInsert[i]
		detail := []byte(r.Detail)
		if detail == nil {
			detail = []byte("null")
		}
		b.Queue(query,
			r.ReportID, r.HostID, r.ProfileName,
			string(r.Phase), r.Timestamp,
			detail, r.ReceivedAt,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec profile report: %w", err)
		}
	}
	return nil
}

// QueryReports returns paginated profile reports that fall within
// [q.From, q.To) on the received_at column. The time-range constraint
// enables PostgreSQL partition pruning so only the relevant monthly
// partitions are scanned.
//
// Optional filters: q.HostID (exact match), q.ProfileName (exact match).
// q.Limit defaults to 100; q.Offset enables cursor-style pagination.
// Results are ordered by received_at DESC, report_id ASC.
func (s *Store) QueryReports(ctx context.Context, q ReportQuery) ([]ProfileReport, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	// Base args: $1=from, $2=to, $3=limit, $4=offset
	args := []any{q.From, q.To, q.Limit, q.Offset}
	where := "WHERE received_at >= $1 AND received_at < $2"
	argIdx := 5

	if q.HostID != "" {
		where += fmt.Sprintf(" AND host_id = $%d", argIdx)
		args = append(args, q.HostID)
		argIdx++
	}
	if q.ProfileName != "" {
		where += fmt.Sprintf(" AND profile_name = $%d", argIdx)
		args = append(args, q.ProfileName)
		argIdx++ //nolint:ineffassign // reserved for future filters
	}

	sql := fmt.Sprintf(`
		SELECT report_id, host_id, profile_name, phase, timestamp,
		       detail, received_at
		FROM   profile_reports
		%s
		ORDER  BY received_at DESC, report_id
		LIMIT  $3 OFFSET $4`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []ProfileReport
	for rows.Next() {
		var r ProfileReport
		var detail []byte
		var phase string
		err := rows.Scan(
			&r.ReportID, &r.HostID, &r.ProfileName,
			&phase, &r.Timestamp,
			&detail, &r.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Phase = Phase(phase)
		r.Detail = detail
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- Host CRUD ---

// UpsertHost inserts a new host or, on hostname conflict, updates all
// mutable fields. It returns the effective host_id that is persisted in the
// database: on a clean insert this equals h.HostID; on a hostname conflict
// the existing host_id is returned unchanged, so callers always receive a
// stable identifier that correlates with historical reports even across
// daemon restarts.
func (s *Store) UpsertHost(ctx context.Context, h Host) (string, error) {
	var effectiveHostID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO hosts
			(host_id, hostname, ip_address, platform, agent_version, last_seen, status)
		VALUES ($1, $2, $3::inet, $4, $5, $6, $7)
		ON CONFLICT (hostname) DO UPDATE SET
			ip_address    = EXCLUDED.ip_address,
			platform      = EXCLUDED.platform,
			agent_version = EXCLUDED.agent_version,
			last_seen     = EXCLUDED.last_seen,
			status        = EXCLUDED.status
		RETURNING host_id`,
		h.HostID,
		h.Hostname,
		nullableStr(h.IPAddress),
		nullableStr(h.Platform),
		nullableStr(h.AgentVersion),
		h.LastSeen,
		string(h.Status),
	).Scan(&effectiveHostID)
	if err != nil {
		return "", fmt.Errorf("upsert host: %w", err)
	}
	return effectiveHostID, nil
}

// GetHost returns the host with the given UUID, or an error wrapping
// pgx.ErrNoRows when not found.
func (s *Store) GetHost(ctx context.Context, hostID string) (*Host, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT host_id, hostname, ip_address::text, platform, agent_version, last_seen, status
		FROM   hosts
		WHERE  host_id = $1`, hostID)
	h, err := scanHost(row)
	if err != nil {
		return nil, fmt.Errorf("get host %s: %w", hostID, err)
	}
	return h, nil
}

// ListHosts returns all registered hosts ordered alphabetically by
// hostname.
func (s *Store) ListHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT host_id, hostname, ip_address::text, platform, agent_version, last_seen, status
		FROM   hosts
		ORDER  BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, *h)
	}
	return hosts, rows.Err()
}

// --- internal helpers ---

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing shared scan
// helpers across single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// scanHost reads one host row from s. The ip_address column must be
// projected as ::text by the caller.
func scanHost(s scanner) (*Host, error) {
	var h Host
	var ip, platform, agentVersion *string
	var status string
	err := s.Scan(
		&h.HostID, &h.Hostname,
		&ip, &platform, &agentVersion,
		&h.LastSeen,
		&status,
	)
	if err != nil {
		return nil, err
	}
	h.Status = HostStatus(status)
	if ip != nil {
		h.IPAddress = *ip
	}
	if platform != nil {
		h.Platform = *platform
	}
	if agentVersion != nil {
		h.AgentVersion = *agentVersion
	}
	return &h, nil
}

// nullableStr converts an empty string to a nil pointer, which pgx stores
// as SQL NULL. A non-empty string is returned as-is.
func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
