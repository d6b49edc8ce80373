package core

import "time"

// EventKind names an outbox event.
type EventKind string

const (
	EventCommitCreated   EventKind = "commit_created"
	EventMergeCompleted  EventKind = "merge_completed"
	EventMergeConflicted EventKind = "merge_conflicted"
)

// Event is one entry of the append-only outbox. Events are written in the
// same store transaction as the state change they describe; delivery to
// downstream consumers is not the engine's concern.
type Event struct {
	Seq       uint64            `json:"seq"` // assigned by the store, strictly increasing
	Kind      EventKind         `json:"kind"`
	Branch    string            `json:"branch,omitempty"`
	Commit    Hash              `json:"commit,omitempty"`
	AttemptID string            `json:"attempt_id,omitempty"`
	Author    string            `json:"author,omitempty"`
	When      time.Time         `json:"when"`
	Meta      map[string]string `json:"meta,omitempty"`
}
