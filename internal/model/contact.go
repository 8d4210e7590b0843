package model

import "time"

// ContactStatus is the reconciliation state of a staged contact.
type ContactStatus string

const (
	ContactStatusWaiting        ContactStatus = "waiting"
	ContactStatusUpdated        ContactStatus = "updated"
	ContactStatusAlreadyANumber ContactStatus = "already a number"
	ContactStatusNotFound       ContactStatus = "not found"
	ContactStatusError          ContactStatus = "error"
)

// IsTerminal reports whether the status ends the contact's lifecycle.
func (s ContactStatus) IsTerminal() bool {
	return s != ContactStatusWaiting && s.IsValid()
}

// IsResolved reports whether the CRM already holds a number for the contact,
// either because we wrote it or because one was on file.
func (s ContactStatus) IsResolved() bool {
	return s == ContactStatusUpdated || s == ContactStatusAlreadyANumber
}

// IsValid reports whether s is one of the known statuses.
func (s ContactStatus) IsValid() bool {
	switch s {
	case ContactStatusWaiting, ContactStatusUpdated, ContactStatusAlreadyANumber,
		ContactStatusNotFound, ContactStatusError:
		return true
	}
	return false
}

// StagedContact is an (email, phone) pair discovered in the mailbox and
// awaiting, or done with, CRM reconciliation.
type StagedContact struct {
	Email            string        `json:"email"`
	Phone            string        `json:"phone"`
	Status           ContactStatus `json:"status"`
	LastStatusUpdate time.Time     `json:"last_status_update"`
	CreatedAt        time.Time     `json:"created_at"`
}

// StatusUpdate moves a waiting contact to a terminal status.
type StatusUpdate struct {
	Email     string        `json:"email"`
	Status    ContactStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Message is a single mailbox message reduced to what extraction needs.
type Message struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// StopLists holds the operator's own numbers and domains.
type StopLists struct {
	Phones  []string `json:"phones"`
	Domains []string `json:"domains"`
}

// Merge returns the union of both lists, keeping s's entries first.
func (s StopLists) Merge(other StopLists) StopLists {
	return StopLists{
		Phones:  mergeUnique(s.Phones, other.Phones),
		Domains: mergeUnique(s.Domains, other.Domains),
	}
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
