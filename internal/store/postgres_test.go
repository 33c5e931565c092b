//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/store/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/watchdogd/watchdogd/internal/store"
)

// migrationsDir returns the absolute path to db/migrations relative to this
// test file, so the tests work regardless of the working directory.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// thisFile is internal/store/postgres_test.go
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "db", "migrations")
}

// setupDB starts a PostgreSQL container, applies all migration files, and
// returns a Store and a raw pgxpool for schema-level assertions.
func setupDB(t *testing.T) (*store.Store, *pgxpool.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("watchdogd_test"),
		tcpostgres.WithUsername("watchdogd"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	rawPool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("connect for migrations: %v", err)
	}
	applyMigrations(t, ctx, rawPool, migrationsDir(t))

	st, err := store.New(ctx, connStr, 10, 50*time.Millisecond)
	if err != nil {
		rawPool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("store.New: %v", err)
	}

	cleanup := func() {
		st.Close(ctx)
		rawPool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return st, rawPool, cleanup
}

// applyMigrations executes migration SQL files in order.
func applyMigrations(t *testing.T, ctx context.Context, pool *pgxpool.Pool, dir string) {
	t.Helper()
	files := []string{
		"001_hosts.sql",
		"002_profile_reports.sql",
		"003_profile_reports_default_partition.sql",
	}
	for _, f := range files {
		path := filepath.Join(dir, f)
		sql, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read migration %s: %v", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			t.Fatalf("apply migration %s: %v", f, err)
		}
	}
}

// testHost returns a Host struct suitable for use in tests.
func testHost(suffix string) store.Host {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return store.Host{
		HostID:       fmt.Sprintf("00000000-0000-0000-0000-%012s", suffix),
		Hostname:     "test-host-" + suffix,
		IPAddress:    "10.0.0.1",
		Platform:     "linux",
		AgentVersion: "0.1.0",
		LastSeen:     &now,
		Status:       store.HostStatusOnline,
	}
}

// ── Host CRUD ─────────────────────────────────────────────────────────────

func TestHostUpsertAndGet(t *testing.T) {
	st, _, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	h := testHost("000001000001")
	if _, err := st.UpsertHost(ctx, h); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}

	got, err := st.GetHost(ctx, h.HostID)
	if err != nil {
		t.Fatalf("GetHost: %v", err)
	}
	if got.Hostname != h.Hostname {
		t.Errorf("hostname: want %q, got %q", h.Hostname, got.Hostname)
	}
	if got.Platform != h.Platform {
		t.Errorf("platform: want %q, got %q", h.Platform, got.Platform)
	}
	if got.Status != h.Status {
		t.Errorf("status: want %q, got %q", h.Status, got.Status)
	}
	if got.IPAddress != h.IPAddress {
		t.Errorf("ip_address: want %q, got %q", h.IPAddress, got.IPAddress)
	}
}

func TestHostUpsertUpdatesExisting(t *testing.T) {
	st, _, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	h := testHost("000002000002")
	if _, err := st.UpsertHost(ctx, h); err != nil {
		t.Fatalf("initial UpsertHost: %v", err)
	}

	h.AgentVersion = "0.2.0"
	h.Status = store.HostStatusDegraded
	if _, err := st.UpsertHost(ctx, h); err != nil {
		t.Fatalf("update UpsertHost: %v", err)
	}

	got, err := st.GetHost(ctx, h.HostID)
	if err != nil {
		t.Fatalf("GetHost after update: %v", err)
	}
	if got.AgentVersion != "0.2.0" {
		t.Errorf("agent_version: want 0.2.0, got %q", got.AgentVersion)
	}
	if got.Status != store.HostStatusDegraded {
		t.Errorf("status: want DEGRADED, got %q", got.Status)
	}
}

func TestListHosts(t *testing.T) {
	st, _, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	h1 := testHost("000003000003")
	h2 := testHost("000004000004")
	for _, h := range []store.Host{h1, h2} {
		if _, err := st.UpsertHost(ctx, h); err != nil {
			t.Fatalf("UpsertHost: %v", err)
		}
	}

	hosts, err := st.ListHosts(ctx)
	if err != nil {
		t.Fatalf("ListHosts: %v", err)
	}
	if len(hosts) < 2 {
		t.Errorf("want >= 2 hosts, got %d", len(hosts))
	}
}

// ── ProfileReport batch insert & query ─────────────────────────────────────

func testReport(hostID, reportID string, phase store.Phase, detail json.RawMessage) store.ProfileReport {
	ts := time.Now().UTC().Truncate(time.Millisecond)
	return store.ProfileReport{
		ReportID:    reportID,
		HostID:      hostID,
		ProfileName: "webserver",
		Phase:       phase,
		Timestamp:   ts,
		Detail:      detail,
		ReceivedAt:  ts,
	}
}

func TestBatchInsertReports_FlushOnSize(t *testing.T) {
	st, _, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	h := testHost("000005000005")
	if _, err := st.UpsertHost(ctx, h); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}

	detail := json.RawMessage(`{"first_seen":"2026-07-29T00:00:00Z"}`)
	// batchSize is 10 in setupDB; insert 10 reports to trigger a size-based flush.
	for i := 0; i < 10; i++ {
		reportID := fmt.Sprintf("aaaaaaaa-0000-0000-0000-%012d", i)
		r := testReport(h.HostID, reportID, store.PhaseSeen, detail)
		if err := st.BatchInsertReports(ctx, r); err != nil {
			t.Fatalf("BatchInsertReports[%d]: %v", i, err)
		}
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	reports, err := st.QueryReports(ctx, store.ReportQuery{
		HostID: h.HostID,
		From:   from,
		To:     to,
		Limit:  100,
	})
	if err != nil {
		t.Fatalf("QueryReports: %v", err)
	}
	if len(reports) != 10 {
		t.Errorf("want 10 reports, got %d", len(reports))
	}
}

func TestBatchInsertReports_FlushOnInterval(t *testing.T) {
	st, _, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	h := testHost("000006000006")
	if _, err := st.UpsertHost(ctx, h); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}

	detail := json.RawMessage(`{"first_seen":"2026-07-29T00:00:00Z"}`)
	r := testReport(h.HostID, "bbbbbbbb-0000-0000-0000-000000000001", store.PhaseNotSeen, detail)

	// Only 1 report — the batchSize threshold (10) is not reached.
	if err := st.BatchInsertReports(ctx, r); err != nil {
		t.Fatalf("BatchInsertReports: %v", err)
	}

	// Wait for the 50 ms flush interval to fire (give 200 ms headroom).
	time.Sleep(200 * time.Millisecond)

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	reports, err := st.QueryReports(ctx, store.ReportQuery{
		HostID: h.HostID,
		From:   from,
		To:     to,
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("QueryReports: %v", err)
	}
	if len(reports) != 1 {
		t.Errorf("want 1 report, got %d", len(reports))
	}
}

func TestQueryReports_ProfileNameFilter(t *testing.T) {
	st, _, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	h := testHost("000007000007")
	if _, err := st.UpsertHost(ctx, h); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}

	detail := json.RawMessage(`{}`)
	r1 := testReport(h.HostID, "cccccccc-0000-0000-0000-000000000001", store.PhaseSeen, detail)
	r2 := testReport(h.HostID, "cccccccc-0000-0000-0000-000000000002", store.PhaseSeen, detail)
	r2.ProfileName = "batch-job"
	for _, r := range []store.ProfileReport{r1, r2} {
		if err := st.BatchInsertReports(ctx, r); err != nil {
			t.Fatalf("BatchInsertReports: %v", err)
		}
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)

	got, err := st.QueryReports(ctx, store.ReportQuery{
		HostID:      h.HostID,
		ProfileName: "batch-job",
		From:        from,
		To:          to,
		Limit:       100,
	})
	if err != nil {
		t.Fatalf("QueryReports(batch-job): %v", err)
	}
	if len(got) != 1 {
		t.Errorf("want 1 batch-job report, got %d", len(got))
	}
	if len(got) > 0 && got[0].ProfileName != "batch-job" {
		t.Errorf("profile_name: want batch-job, got %q", got[0].ProfileName)
	}
}

func TestQueryReports_DetailRoundtrip(t *testing.T) {
	st, _, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	h := testHost("000008000008")
	if _, err := st.UpsertHost(ctx, h); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}

	detail := json.RawMessage(`{"first_seen":"2026-07-29T00:00:00Z","extra":{"nested":true}}`)
	r := testReport(h.HostID, "dddddddd-0000-0000-0000-000000000001", store.PhaseSeen, detail)
	if err := st.BatchInsertReports(ctx, r); err != nil {
		t.Fatalf("BatchInsertReports: %v", err)
	}
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	got, err := st.QueryReports(ctx, store.ReportQuery{
		HostID: h.HostID,
		From:   from,
		To:     to,
		Limit:  1,
	})
	if err != nil {
		t.Fatalf("QueryReports: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 report, got %d", len(got))
	}

	var origMap, gotMap map[string]any
	if err := json.Unmarshal(detail, &origMap); err != nil {
		t.Fatalf("unmarshal original: %v", err)
	}
	if err := json.Unmarshal(got[0].Detail, &gotMap); err != nil {
		t.Fatalf("unmarshal retrieved: %v", err)
	}
	if fmt.Sprintf("%v", origMap) != fmt.Sprintf("%v", gotMap) {
		t.Errorf("detail mismatch:\nwant %v\n got %v", origMap, gotMap)
	}
}
