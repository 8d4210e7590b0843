package store

import (
	"context"
	"time"

	"github.com/sells-group/contact-enricher/internal/model"
)

// ContactFilter specifies criteria for listing staged contacts.
type ContactFilter struct {
	Status model.ContactStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind  model.RunKind `json:"kind,omitempty"`
	Limit int           `json:"limit,omitempty"`
}

// Store defines the persistence interface for staged contacts, the scan
// checkpoint, stop-list parameters, and run history. Contacts are keyed by
// email.
type Store interface {
	// Contacts
	ListContacts(ctx context.Context, filter ContactFilter) ([]model.StagedContact, error)
	GetContact(ctx context.Context, email string) (*model.StagedContact, error)
	// StageContacts inserts rows for emails not yet present. Existing rows,
	// whatever their status, are left untouched. It returns the number of
	// rows inserted.
	StageContacts(ctx context.Context, contacts []model.StagedContact) (int, error)
	// UpdateStatuses applies updates by email to rows that are still
	// waiting. It returns the number of rows changed.
	UpdateStatuses(ctx context.Context, updates []model.StatusUpdate) (int, error)

	// Checkpoint. A zero time means no scan has completed yet.
	GetCheckpoint(ctx context.Context) (time.Time, error)
	SetCheckpoint(ctx context.Context, t time.Time) error

	// Parameters
	GetStopLists(ctx context.Context) (model.StopLists, error)
	AddStopLists(ctx context.Context, lists model.StopLists) error

	// Runs
	RecordRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// checkpointDate truncates t to the calendar day used by the yyyy/m/d
// checkpoint format.
func checkpointDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
