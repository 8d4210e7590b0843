// Package scan mines the mailbox for sender phone numbers and stages the
// contacts worth reconciling.
package scan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enricher/internal/corpus"
	"github.com/sells-group/contact-enricher/internal/mailbox"
	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/phone"
	"github.com/sells-group/contact-enricher/internal/stoplist"
	"github.com/sells-group/contact-enricher/internal/store"
)

// DefaultLookbackDays is the scan window used when no checkpoint exists.
const DefaultLookbackDays = 30

// Config controls a Scanner.
type Config struct {
	// InitialLookbackDays sets how far back the first scan reaches.
	InitialLookbackDays int
	// StopLists are merged with the lists held by the store.
	StopLists model.StopLists
}

// Scanner runs the scan job.
type Scanner struct {
	store   store.Store
	mailbox mailbox.Searcher
	cfg     Config
	now     func() time.Time
}

// NewScanner creates a Scanner.
func NewScanner(st store.Store, mb mailbox.Searcher, cfg Config) *Scanner {
	if cfg.InitialLookbackDays <= 0 {
		cfg.InitialLookbackDays = DefaultLookbackDays
	}
	return &Scanner{store: st, mailbox: mb, cfg: cfg, now: time.Now}
}

// Run scans the mailbox from the checkpoint up to today, stages new
// contacts and advances the checkpoint. The checkpoint only moves once the
// staged rows are written. The run is recorded whether or not it succeeds.
func (s *Scanner) Run(ctx context.Context) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Kind:      model.RunKindScan,
		StartedAt: s.now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)))

	runErr := s.run(ctx, run, log)
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.FinishedAt = s.now().UTC()

	if err := s.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("scan: failed to record run", zap.Error(err))
	}

	if runErr != nil {
		log.Error("scan: run failed", zap.Error(runErr))
		return run, runErr
	}
	log.Info("scan: run complete",
		zap.Int("messages", run.Stats.Messages),
		zap.Int("senders", run.Stats.Senders),
		zap.Int("staged", run.Stats.Staged),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (s *Scanner) run(ctx context.Context, run *model.Run, log *zap.Logger) error {
	r, err := s.window(ctx)
	if err != nil {
		return err
	}
	if r.Empty() {
		log.Info("scan: already scanned up to today", zap.String("query", r.Query()))
		return nil
	}

	stored, err := s.store.GetStopLists(ctx)
	if err != nil {
		return eris.Wrap(err, "scan: load stop lists")
	}
	stop := stoplist.New(s.cfg.StopLists.Merge(stored))

	log.Info("scan: searching mailbox", zap.String("query", r.Query()))
	messages, err := s.mailbox.Search(ctx, r)
	if err != nil {
		return eris.Wrap(err, "scan: search mailbox")
	}
	run.Stats.Messages = len(messages)

	c := corpus.Build(messages, stop)
	run.Stats.Senders = c.Len()

	candidates := make([]Candidate, 0, c.Len())
	for _, sender := range c.Senders() {
		candidates = append(candidates, Candidate{Email: sender, Numbers: phone.Extract(c.Text(sender), stop)})
	}

	rows, err := SelectNew(ctx, candidates, s.store.GetContact)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		now := s.now().UTC()
		for i := range rows {
			rows[i].CreatedAt = now
			rows[i].LastStatusUpdate = now
		}
		n, err := s.store.StageContacts(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "scan: stage contacts")
		}
		run.Stats.Staged = n
	}

	if err := s.store.SetCheckpoint(ctx, r.Before); err != nil {
		return eris.Wrap(err, "scan: set checkpoint")
	}
	return nil
}

// window returns [checkpoint, today), or a lookback window ending today when
// no scan has run yet.
func (s *Scanner) window(ctx context.Context) (mailbox.DateRange, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	checkpoint, err := s.store.GetCheckpoint(ctx)
	if err != nil {
		return mailbox.DateRange{}, eris.Wrap(err, "scan: get checkpoint")
	}
	if checkpoint.IsZero() {
		checkpoint = today.AddDate(0, 0, -s.cfg.InitialLookbackDays)
	}
	return mailbox.DateRange{After: checkpoint, Before: today}, nil
}
