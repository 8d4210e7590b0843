// Package mailbox searches a mailbox for the messages received in a date
// range. Gmail (REST API) and IMAP backends are provided.
package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/contact-enricher/internal/model"
)

// Searcher returns the messages received in a date range, in the order the
// backend reports them.
type Searcher interface {
	Search(ctx context.Context, r DateRange) ([]model.Message, error)
}

// DateRange is the half-open day range [After, Before).
type DateRange struct {
	After  time.Time
	Before time.Time
}

// Query renders the range in Gmail search syntax with yyyy/m/d dates.
func (r DateRange) Query() string {
	return fmt.Sprintf("after:%s before:%s",
		r.After.Format(model.CheckpointLayout),
		r.Before.Format(model.CheckpointLayout),
	)
}

// Empty reports whether the range covers no day.
func (r DateRange) Empty() bool {
	return !dayOf(r.After).Before(dayOf(r.Before))
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
