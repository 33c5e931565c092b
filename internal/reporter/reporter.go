// Package reporter pushes profile lifetime snapshots to an optional remote
// watchdog-collectord dashboard over REST+JSON. Delivery is buffered
// through a local SQLite queue so a collector outage never blocks or drops
// a scheduler tick.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/watchdogd/watchdogd/internal/clock"
	"github.com/watchdogd/watchdogd/internal/queue"
	"github.com/watchdogd/watchdogd/internal/scheduler"
)

// DefaultDrainInterval is how often the reporter's background loop drains
// the local queue and attempts delivery.
const DefaultDrainInterval = 5 * time.Second

// DefaultBatchSize is the maximum number of queued reports sent to the
// collector in a single HTTP request.
const DefaultBatchSize = 50

// errRejected marks a 4xx response: the collector refused the batch itself,
// so retrying the same payload cannot succeed.
var errRejected = errors.New("collector rejected batch")

// snapshotDTO is the wire representation of one profile's lifetime state,
// decoupled from lifetime.Snapshot's internal field layout so the wire
// format stays stable independent of engine-side refactors.
type snapshotDTO struct {
	Profile   string     `json:"profile"`
	Phase     string     `json:"phase"`
	FirstSeen *time.Time `json:"first_seen,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Exiting   bool       `json:"exiting"`
}

// BuildReport converts a scheduler tick's profile snapshots into a
// queue.Report ready for Enqueue.
func BuildReport(host string, now time.Time, snaps []scheduler.ProfileSnapshot) (queue.Report, error) {
	dtos := make([]snapshotDTO, len(snaps))
	for i, s := range snaps {
		d := snapshotDTO{
			Profile: s.Name,
			Phase:   s.State.Phase.String(),
			Exiting: s.State.Exiting,
		}
		if s.State.HasFirstSeen {
			t := s.State.FirstSeen
			d.FirstSeen = &t
		}
		if s.State.HasLastSeen {
			t := s.State.LastSeen
			d.LastSeen = &t
		}
		dtos[i] = d
	}

	payload, err := json.Marshal(dtos)
	if err != nil {
		return queue.Report{}, fmt.Errorf("reporter: marshal snapshots: %w", err)
	}
	return queue.Report{Host: host, Timestamp: now, Profiles: payload}, nil
}

// Queue is the subset of *queue.SQLiteQueue the Reporter depends on.
type Queue interface {
	Enqueue(ctx context.Context, r queue.Report) error
	Dequeue(ctx context.Context, n int) ([]queue.PendingReport, error)
	Ack(ctx context.Context, ids []int64) error
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithDrainInterval overrides DefaultDrainInterval.
func WithDrainInterval(d time.Duration) Option {
	return func(r *Reporter) { r.drainInterval = d }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(r *Reporter) { r.batchSize = n }
}

// WithClock overrides the reporter's clock, for testing.
func WithClock(c clock.Clock) Option {
	return func(r *Reporter) { r.clock = c }
}

// WithLogger overrides the reporter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithHTTPClient overrides the reporter's HTTP client, for testing.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) { r.httpClient = c }
}

// Reporter drains a local Queue and pushes batches of reports to a remote
// collector's ingest endpoint as JSON over HTTP, retrying transient
// failures with exponential backoff and leaving undelivered reports queued
// for the next drain cycle.
type Reporter struct {
	q       Queue
	baseURL string
	token   string

	httpClient    *http.Client
	drainInterval time.Duration
	batchSize     int
	clock         clock.Clock
	logger        *slog.Logger
}

// New creates a Reporter that pushes to baseURL (e.g.
// "https://collector.internal:8443"). token, when non-empty, is sent as a
// Bearer Authorization header on every request.
func New(q Queue, baseURL, token string, opts ...Option) *Reporter {
	r := &Reporter{
		q:             q,
		baseURL:       baseURL,
		token:         token,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		drainInterval: DefaultDrainInterval,
		batchSize:     DefaultBatchSize,
		clock:         clock.Real{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TickHook returns a function suitable for scheduler.WithTickHook: it
// converts each tick's profile snapshots into a Report and enqueues it for
// later delivery. Enqueue failures are logged but never propagate, since
// the reporter is a purely observational side-channel.
func (r *Reporter) TickHook(ctx context.Context, host string) func([]scheduler.ProfileSnapshot) {
	return func(snaps []scheduler.ProfileSnapshot) {
		rep, err := BuildReport(host, r.clock.Now(), snaps)
		if err != nil {
			r.logger.Error("reporter: build report failed", "error", err)
			return
		}
		if err := r.q.Enqueue(ctx, rep); err != nil {
			r.logger.Error("reporter: enqueue failed", "error", err)
		}
	}
}

// Run drains the queue every drainInterval until ctx is cancelled. Each
// drain cycle dequeues up to batchSize reports, pushes them to the
// collector, and acknowledges only those the collector confirmed; a
// delivery failure leaves the batch queued for the next cycle.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.logger.Warn("reporter: drain cycle failed", "error", err)
			}
		}
	}
}

func (r *Reporter) drainOnce(ctx context.Context) error {
	pending, err := r.q.Dequeue(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("reporter: dequeue: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	reports := make([]queue.Report, len(pending))
	ids := make([]int64, len(pending))
	for i, p := range pending {
		reports[i] = p.Report
		ids[i] = p.ID
	}

	operation := func() error { return r.push(ctx, reports) }
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		if errors.Is(err, errRejected) {
			// The collector rejected the batch outright; retrying the same
			// payload next cycle would wedge the queue head, so ack and drop.
			r.logger.Warn("reporter: batch permanently rejected, dropping", "count", len(ids), "error", err)
			return r.q.Ack(ctx, ids)
		}
		return fmt.Errorf("reporter: push: %w", err)
	}

	return r.q.Ack(ctx, ids)
}

// push sends reports as a single JSON-encoded HTTP POST to the collector's
// ingest endpoint.
func (r *Reporter) push(ctx context.Context, reports []queue.Report) error {
	body, err := json.Marshal(reports)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal batch: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/v1/ingest/reports", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("%w: %d", errRejected, resp.StatusCode))
	}
	return nil
}
