package reporter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/watchdogd/watchdogd/internal/clock"
	"github.com/watchdogd/watchdogd/internal/lifetime"
	"github.com/watchdogd/watchdogd/internal/queue"
	"github.com/watchdogd/watchdogd/internal/reporter"
	"github.com/watchdogd/watchdogd/internal/scheduler"
)

// memQueue is an in-memory reporter.Queue test double.
type memQueue struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]queue.Report
}

func newMemQueue() *memQueue {
	return &memQueue{pending: make(map[int64]queue.Report)}
}

func (q *memQueue) Enqueue(_ context.Context, r queue.Report) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.pending[q.nextID] = r
	return nil
}

func (q *memQueue) Dequeue(_ context.Context, n int) ([]queue.PendingReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.PendingReport
	for id := int64(1); id <= q.nextID && len(out) < n; id++ {
		if r, ok := q.pending[id]; ok {
			out = append(out, queue.PendingReport{ID: id, Report: r})
		}
	}
	return out, nil
}

func (q *memQueue) Ack(_ context.Context, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		delete(q.pending, id)
	}
	return nil
}

func (q *memQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func TestBuildReport_EncodesSnapshots(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	tr := lifetime.New()
	tr.Ingest(1, now)
	snaps := []scheduler.ProfileSnapshot{{Name: "webserver", State: tr.Snapshot()}}

	rep, err := reporter.BuildReport("host-1", now, snaps)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if rep.Host != "host-1" {
		t.Errorf("Host = %q, want host-1", rep.Host)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(rep.Profiles, &decoded); err != nil {
		t.Fatalf("unmarshal profiles: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["profile"] != "webserver" {
		t.Errorf("decoded profiles = %v", decoded)
	}
}

func TestReporter_TickHook_EnqueuesReport(t *testing.T) {
	q := newMemQueue()
	mock := clock.NewMock(time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC))
	r := reporter.New(q, "http://example.invalid", "", reporter.WithClock(mock))

	hook := r.TickHook(context.Background(), "host-1")
	hook([]scheduler.ProfileSnapshot{{Name: "webserver", State: lifetime.New().Snapshot()}})

	if d := q.depth(); d != 1 {
		t.Errorf("queue depth = %d, want 1", d)
	}
}

func TestReporter_Run_DeliversAndAcks(t *testing.T) {
	var received int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []queue.Report
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		received += len(batch)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	q := newMemQueue()
	_ = q.Enqueue(context.Background(), queue.Report{Host: "host-1", Timestamp: time.Now()})

	r := reporter.New(q, srv.URL, "", reporter.WithDrainInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	if received == 0 {
		t.Error("collector never received a batch")
	}
	if d := q.depth(); d != 0 {
		t.Errorf("queue depth after delivery = %d, want 0", d)
	}
}

func TestReporter_Run_LeavesBatchQueuedOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := newMemQueue()
	_ = q.Enqueue(context.Background(), queue.Report{Host: "host-1", Timestamp: time.Now()})

	r := reporter.New(q, srv.URL, "", reporter.WithDrainInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	if d := q.depth(); d != 1 {
		t.Errorf("queue depth after failed delivery = %d, want 1 (still queued)", d)
	}
}

// A 4xx from the collector is a permanent rejection: the batch must be
// dropped (acked) rather than retried, so a poisoned batch never wedges
// the queue head.
func TestReporter_Run_DropsBatchOn4xx(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	q := newMemQueue()
	_ = q.Enqueue(context.Background(), queue.Report{Host: "host-1", Timestamp: time.Now()})

	r := reporter.New(q, srv.URL, "bad-token", reporter.WithDrainInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Errorf("collector hits = %d, want exactly 1 (no retry on 4xx)", hits)
	}
	if d := q.depth(); d != 0 {
		t.Errorf("queue depth after 4xx = %d, want 0 (permanently rejected batch dropped)", d)
	}
}
