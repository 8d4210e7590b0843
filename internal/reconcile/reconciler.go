package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/store"
)

// Reconciler runs the workflow over the store's waiting contacts and writes
// the outcomes back.
type Reconciler struct {
	store    store.Store
	workflow *Workflow
	batch    int
	now      func() time.Time
}

// NewReconciler creates a Reconciler. batch caps how many waiting contacts a
// single run picks up; zero or less means no cap.
func NewReconciler(st store.Store, wf *Workflow, batch int) *Reconciler {
	return &Reconciler{store: st, workflow: wf, batch: batch, now: time.Now}
}

// Run reconciles waiting contacts and records the run. The returned Run is
// non-nil whenever a run record was attempted.
func (r *Reconciler) Run(ctx context.Context) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Kind:      model.RunKindReconcile,
		StartedAt: r.now().UTC(),
		Stats:     model.RunStats{Statuses: map[model.ContactStatus]int{}},
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)))

	runErr := r.run(ctx, run, log)
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.FinishedAt = r.now().UTC()

	if err := r.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("reconcile: failed to record run", zap.Error(err))
	}

	if runErr != nil {
		log.Error("reconcile: run failed", zap.Error(runErr))
		return run, runErr
	}
	log.Info("reconcile: run complete",
		zap.Int("updated", run.Stats.Statuses[model.ContactStatusUpdated]),
		zap.Int("already_a_number", run.Stats.Statuses[model.ContactStatusAlreadyANumber]),
		zap.Int("not_found", run.Stats.Statuses[model.ContactStatusNotFound]),
		zap.Int("error", run.Stats.Statuses[model.ContactStatusError]),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (r *Reconciler) run(ctx context.Context, run *model.Run, log *zap.Logger) error {
	limit := r.batch
	if limit <= 0 {
		limit = maxBatch
	}
	contacts, err := r.store.ListContacts(ctx, store.ContactFilter{Status: model.ContactStatusWaiting, Limit: limit})
	if err != nil {
		return eris.Wrap(err, "reconcile: list waiting contacts")
	}
	run.Stats.Contacts = len(contacts)
	if len(contacts) == 0 {
		log.Info("reconcile: no waiting contacts")
		return nil
	}
	log.Info("reconcile: starting", zap.Int("waiting", len(contacts)))

	outcomes, wfErr := r.workflow.Run(ctx, contacts)

	// Write back whatever finished, even when the batch was cut short.
	if len(outcomes) > 0 {
		at := r.now().UTC()
		updates := make([]model.StatusUpdate, 0, len(outcomes))
		for _, o := range outcomes {
			updates = append(updates, model.StatusUpdate{Email: o.Email, Status: o.Status, UpdatedAt: at})
			run.Stats.Statuses[o.Status]++
		}
		if _, err := r.store.UpdateStatuses(context.WithoutCancel(ctx), updates); err != nil {
			return eris.Wrap(err, "reconcile: write statuses")
		}
	}

	if wfErr != nil {
		return eris.Wrap(wfErr, "reconcile: workflow")
	}
	return nil
}

// maxBatch stands in for "no cap" when listing waiting contacts.
const maxBatch = 1 << 20
