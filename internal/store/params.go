package store

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enricher/internal/model"
)

// normalizeStaged fills defaults for a row about to be staged.
func normalizeStaged(c model.StagedContact, now time.Time) model.StagedContact {
	if c.Status == "" {
		c.Status = model.ContactStatusWaiting
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastStatusUpdate.IsZero() {
		c.LastStatusUpdate = c.CreatedAt
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastStatusUpdate = c.LastStatusUpdate.UTC()
	return c
}

func validateUpdates(updates []model.StatusUpdate) error {
	for _, u := range updates {
		if u.Email == "" {
			return eris.New("store: status update without email")
		}
		if !u.Status.IsTerminal() {
			return eris.Errorf("store: %s: status %q is not terminal", u.Email, u.Status)
		}
	}
	return nil
}

func updateTime(u model.StatusUpdate) time.Time {
	if u.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return u.UpdatedAt.UTC()
}

func formatCheckpoint(t time.Time) string {
	return t.Format(model.CheckpointLayout)
}

func parseCheckpoint(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(model.CheckpointLayout, value)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse checkpoint %q", value)
	}
	return t, nil
}

type stopEntry struct {
	kind  string
	value string
}

func stopEntries(lists model.StopLists) []stopEntry {
	var out []stopEntry
	for _, p := range lists.Phones {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, stopEntry{kind: stopKindPhone, value: p})
		}
	}
	for _, d := range lists.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, stopEntry{kind: stopKindDomain, value: d})
		}
	}
	return out
}

func appendStopEntry(lists model.StopLists, kind, value string) model.StopLists {
	switch kind {
	case stopKindPhone:
		lists.Phones = append(lists.Phones, value)
	case stopKindDomain:
		lists.Domains = append(lists.Domains, value)
	}
	return lists
}
