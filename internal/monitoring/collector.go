// Package monitoring watches job health from the recorded runs and posts
// alerts to a webhook when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/store"
)

// MetricsSnapshot holds a point-in-time view of job health.
type MetricsSnapshot struct {
	// Scan metrics (within lookback window).
	ScanTotal  int `json:"scan_total"`
	ScanFailed int `json:"scan_failed"`
	Staged     int `json:"staged"`

	// Reconcile metrics (within lookback window).
	ReconcileTotal  int     `json:"reconcile_total"`
	ReconcileFailed int     `json:"reconcile_failed"`
	Reconciled      int     `json:"reconciled"`
	ContactErrors   int     `json:"contact_errors"`
	ContactErrRate  float64 `json:"contact_error_rate"`
	Updated         int     `json:"updated"`

	// LastScanAt is the start of the most recent successful scan, zero if
	// none was recorded.
	LastScanAt time.Time `json:"last_scan_at,omitzero"`

	// Waiting is the current backlog of contacts awaiting reconciliation.
	Waiting int `json:"waiting"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// collectLimit bounds the rows read per collection.
const collectLimit = 10000

// Collect gathers a snapshot of job metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: collectLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.Kind == model.RunKindScan && r.Error == "" && r.StartedAt.After(snap.LastScanAt) {
			snap.LastScanAt = r.StartedAt
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}
		switch r.Kind {
		case model.RunKindScan:
			snap.ScanTotal++
			snap.Staged += r.Stats.Staged
			if r.Error != "" {
				snap.ScanFailed++
			}
		case model.RunKindReconcile:
			snap.ReconcileTotal++
			if r.Error != "" {
				snap.ReconcileFailed++
			}
			for status, n := range r.Stats.Statuses {
				snap.Reconciled += n
				switch status {
				case model.ContactStatusError:
					snap.ContactErrors += n
				case model.ContactStatusUpdated:
					snap.Updated += n
				}
			}
		}
	}
	if snap.Reconciled > 0 {
		snap.ContactErrRate = float64(snap.ContactErrors) / float64(snap.Reconciled)
	}

	waiting, err := c.store.ListContacts(ctx, store.ContactFilter{Status: model.ContactStatusWaiting, Limit: collectLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list waiting contacts")
	}
	snap.Waiting = len(waiting)

	return snap, nil
}
