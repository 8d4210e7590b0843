package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates the store on an interval and posts alerts. An alert type
// that is still active on the next check is not posted again until it clears.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       Config

	active map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg Config) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		active:    map[AlertType]bool{},
	}
}

// Run checks once immediately and then on every tick. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	if ctx.Err() == nil {
		c.check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one evaluation and returns the number of alerts posted.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return 0
	}

	fresh := c.fresh(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		log.Debug("monitoring: nothing new to report",
			zap.Int("waiting", snap.Waiting),
			zap.Int("active_alerts", len(c.active)),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts evaluated",
		zap.Int("new", len(fresh)),
		zap.Int("sent", sent),
		zap.Int("waiting", snap.Waiting),
	)
	return sent
}

// fresh returns the alerts whose type was not active on the previous check
// and records the current set as active. Types that no longer fire are
// cleared so they alert again on recurrence.
func (c *Checker) fresh(alerts []Alert) []Alert {
	now := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.active[a.Type] {
			out = append(out, a)
		}
	}
	c.active = now
	return out
}
