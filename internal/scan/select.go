package scan

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enricher/internal/model"
)

// Candidate is a sender and the numbers extracted from its messages, in
// first-occurrence order.
type Candidate struct {
	Email   string
	Numbers []string
}

// LookupFunc returns the staged row for email, or nil when there is none.
type LookupFunc func(ctx context.Context, email string) (*model.StagedContact, error)

// SelectNew returns the waiting rows to stage for candidates. A sender is
// skipped when no number was found for it or when it already has a row,
// pending or terminal. Each staged row carries the sender's first number.
func SelectNew(ctx context.Context, candidates []Candidate, lookup LookupFunc) ([]model.StagedContact, error) {
	var out []model.StagedContact
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if len(c.Numbers) == 0 || c.Email == "" || seen[c.Email] {
			continue
		}
		seen[c.Email] = true

		existing, err := lookup(ctx, c.Email)
		if err != nil {
			return nil, eris.Wrapf(err, "scan: look up %s", c.Email)
		}
		if existing != nil {
			continue
		}
		out = append(out, model.StagedContact{
			Email:  c.Email,
			Phone:  c.Numbers[0],
			Status: model.ContactStatusWaiting,
		})
	}
	return out, nil
}
