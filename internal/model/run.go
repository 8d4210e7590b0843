package model

import "time"

// RunKind identifies which job produced a run record.
type RunKind string

const (
	RunKindScan      RunKind = "scan"
	RunKindReconcile RunKind = "reconcile"
)

// Run records one execution of a job.
type Run struct {
	ID         string    `json:"id"`
	Kind       RunKind   `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stats      RunStats  `json:"stats"`
	Error      string    `json:"error,omitempty"`
}

// RunStats holds per-run counters. Scan runs fill the message fields;
// reconcile runs fill Contacts and the status counts.
type RunStats struct {
	Messages int                   `json:"messages,omitempty"`
	Senders  int                   `json:"senders,omitempty"`
	Staged   int                   `json:"staged,omitempty"`
	Contacts int                   `json:"contacts,omitempty"`
	Statuses map[ContactStatus]int `json:"statuses,omitempty"`
}

// CheckpointLayout is the yyyy/m/d layout used for the last-scan checkpoint
// and for mailbox date queries.
const CheckpointLayout = "2006/1/2"
