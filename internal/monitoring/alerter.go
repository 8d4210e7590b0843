package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailure       AlertType = "job_failure"
	AlertContactErrorRate AlertType = "contact_error_rate"
	AlertStaleScan        AlertType = "stale_scan"
)

// Config holds alert thresholds and delivery settings.
type Config struct {
	WebhookURL          string
	CheckIntervalSecs   int
	LookbackWindowHours int
	// ErrorRateThreshold is the share of reconciled contacts ending in
	// "error" above which an alert fires.
	ErrorRateThreshold float64
	// StaleScanHours fires an alert when no scan has succeeded for that
	// long. Zero disables the check.
	StaleScanHours int
}

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    Config
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg Config) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if failed := snap.ScanFailed + snap.ReconcileFailed; failed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d job run(s) failed in last %dh (%d scan, %d reconcile)",
				failed, snap.LookbackHours, snap.ScanFailed, snap.ReconcileFailed,
			),
			Details: map[string]any{
				"scan_failed":      snap.ScanFailed,
				"reconcile_failed": snap.ReconcileFailed,
			},
			Timestamp: now,
		})
	}

	// Small samples are noise.
	if snap.Reconciled >= 5 && snap.ContactErrRate > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertContactErrorRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Contact update error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d reconciled in last %dh)",
				snap.ContactErrRate*100, a.cfg.ErrorRateThreshold*100,
				snap.ContactErrors, snap.Reconciled, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.ContactErrRate,
				"threshold":  a.cfg.ErrorRateThreshold,
				"errors":     snap.ContactErrors,
				"reconciled": snap.Reconciled,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleScanHours > 0 {
		limit := time.Duration(a.cfg.StaleScanHours) * time.Hour
		if snap.LastScanAt.IsZero() || now.Sub(snap.LastScanAt) > limit {
			msg := fmt.Sprintf("No successful scan in the last %dh", a.cfg.StaleScanHours)
			if !snap.LastScanAt.IsZero() {
				msg += fmt.Sprintf(" (last at %s)", snap.LastScanAt.Format(time.RFC3339))
			}
			alerts = append(alerts, Alert{
				Type:      AlertStaleScan,
				Severity:  "medium",
				Message:   msg,
				Details:   map[string]any{"waiting": snap.Waiting},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
