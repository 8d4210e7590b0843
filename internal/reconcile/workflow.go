// Package reconcile matches staged contacts against CRM records and writes
// discovered phone numbers into records that lack one.
package reconcile

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/phone"
	"github.com/sells-group/contact-enricher/internal/resilience"
	"github.com/sells-group/contact-enricher/pkg/bullhorn"
)

// Outcome is the result of reconciling one staged contact.
type Outcome struct {
	Email    string
	Status   model.ContactStatus
	Entity   bullhorn.Entity // matched entity, empty when not found
	RecordID int64
	Field    string // field written, empty when nothing was written
	Err      error  // update failure behind a ContactStatusError
}

// Workflow reconciles staged contacts against Bullhorn.
type Workflow struct {
	client bullhorn.Client
	retry  resilience.RetryConfig
}

// NewWorkflow creates a Workflow. retry bounds the session login step.
func NewWorkflow(client bullhorn.Client, retry resilience.RetryConfig) *Workflow {
	return &Workflow{client: client, retry: retry}
}

// Run authenticates once and reconciles each contact in order. An
// authentication failure aborts the run before any contact is processed and
// is returned as *bullhorn.AuthError. A failure on one contact is recorded in
// its Outcome and never aborts the batch. If ctx is cancelled mid-batch, the
// outcomes gathered so far are returned with ctx's error; a contact whose
// searches or write were cut short by the cancellation has no outcome.
func (w *Workflow) Run(ctx context.Context, contacts []model.StagedContact) ([]Outcome, error) {
	sess, err := bullhorn.Authenticate(ctx, w.client, w.retry)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(contacts))
	for _, c := range contacts {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out, ok := w.reconcile(ctx, sess, c)
		if !ok {
			zap.L().Debug("reconcile: contact interrupted, left waiting", zap.String("email", c.Email))
			return outcomes, ctx.Err()
		}
		zap.L().Debug("reconcile: contact done",
			zap.String("email", out.Email),
			zap.String("status", string(out.Status)),
			zap.String("entity", string(out.Entity)),
			zap.Int64("record_id", out.RecordID),
			zap.String("field", out.Field),
			zap.Error(out.Err),
		)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// reconcile decides and applies one contact. It reports false when ctx was
// cancelled before the contact's outcome was known.
func (w *Workflow) reconcile(ctx context.Context, sess *bullhorn.Session, c model.StagedContact) (Outcome, bool) {
	log := zap.L().With(zap.String("email", c.Email))

	var (
		contact    *bullhorn.ClientContact
		lead       *bullhorn.Lead
		contactErr error
		leadErr    error
		g          errgroup.Group
	)
	g.Go(func() error {
		found, err := bullhorn.FindClientContact(ctx, w.client, sess, c.Email)
		if err != nil {
			contactErr = err
			log.Warn("reconcile: client contact search failed, treating as no match", zap.Error(err))
			return nil
		}
		contact = found
		return nil
	})
	g.Go(func() error {
		found, err := bullhorn.FindLead(ctx, w.client, sess, c.Email)
		if err != nil {
			leadErr = err
			log.Warn("reconcile: lead search failed, treating as no match", zap.Error(err))
			return nil
		}
		lead = found
		return nil
	})
	_ = g.Wait()

	a := decide(contact, lead)
	if ctx.Err() != nil && (contactErr != nil || leadErr != nil || a.field != "") {
		return Outcome{}, false
	}
	out := Outcome{Email: c.Email, Status: a.status, Entity: a.entity, RecordID: a.id, Field: a.field}
	if a.field == "" {
		return out, true
	}

	number := phone.Unquote(c.Phone)
	switch a.entity {
	case bullhorn.EntityClientContact:
		out.Err = bullhorn.SetClientPhone(ctx, w.client, sess, a.id, number)
	case bullhorn.EntityLead:
		out.Err = bullhorn.SetLeadField(ctx, w.client, sess, a.id, number, bullhorn.LeadPhoneField(a.field))
	}
	if out.Err != nil && ctx.Err() != nil {
		return Outcome{}, false
	}
	if out.Err != nil {
		log.Warn("reconcile: update failed", zap.String("entity", string(a.entity)), zap.Int64("record_id", a.id), zap.Error(out.Err))
		out.Status = model.ContactStatusError
	}
	return out, true
}

// action is the decision for one contact before any write happens.
type action struct {
	entity bullhorn.Entity
	id     int64
	field  string // empty means no write
	status model.ContactStatus
}

// decide applies the precedence rules: a ClientContact match wins over a
// Lead match, and on a Lead the primary phone is filled before the mobile.
// The status is the one to record when the write, if any, succeeds.
func decide(contact *bullhorn.ClientContact, lead *bullhorn.Lead) action {
	switch {
	case contact != nil:
		a := action{entity: bullhorn.EntityClientContact, id: contact.ID}
		if contact.Phone != "" {
			a.status = model.ContactStatusAlreadyANumber
			return a
		}
		a.field = "phone"
		a.status = model.ContactStatusUpdated
		return a
	case lead != nil:
		a := action{entity: bullhorn.EntityLead, id: lead.ID, status: model.ContactStatusUpdated}
		switch {
		case lead.Phone == "":
			a.field = string(bullhorn.LeadFieldPhone)
		case lead.Mobile == "":
			a.field = string(bullhorn.LeadFieldMobile)
		default:
			a.status = model.ContactStatusAlreadyANumber
		}
		return a
	default:
		return action{status: model.ContactStatusNotFound}
	}
}
