package core

import "time"

// ConflictType sub-classifies an object changed incompatibly on both sides
// of a merge.
type ConflictType string

const (
	// ConflictSchemaSchema: both branches modified the object to different
	// definitions.
	ConflictSchemaSchema ConflictType = "schema_schema"
	// ConflictDeleteModify: one branch dropped the object, the other
	// modified it.
	ConflictDeleteModify ConflictType = "delete_modify"
	// ConflictTypeMismatch: both branches retyped the same column
	// differently. Best-effort classification; falls back to schema_schema
	// when the definitions cannot be parsed.
	ConflictTypeMismatch ConflictType = "type_mismatch"
)

// ResolutionStrategy selects how a conflict is resolved.
type ResolutionStrategy string

const (
	ResolveUseSource ResolutionStrategy = "use_source"
	ResolveUseTarget ResolutionStrategy = "use_target"
	ResolveUnion     ResolutionStrategy = "union"
	ResolveManual    ResolutionStrategy = "manual"
)

// ResolutionStatus tracks a conflict through the attempt lifecycle.
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionResolved ResolutionStatus = "resolved"
)

// Conflict is one object that cannot be merged automatically. Base, Source
// and Target are blob hashes; a zero hash means the object is absent on that
// side. When resolved, Resolved holds the winning blob (zero means the
// resolution is a drop) and Strategy records how it was chosen.
type Conflict struct {
	ID       string             `json:"conflict_id"`
	Path     string             `json:"object_path"`
	Kind     ObjectKind         `json:"object_kind"`
	Type     ConflictType       `json:"conflict_type"`
	Base     Hash               `json:"base,omitempty"`
	Source   Hash               `json:"source,omitempty"`
	Target   Hash               `json:"target,omitempty"`
	Status   ResolutionStatus   `json:"resolution_status"`
	Strategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
	Resolved Hash               `json:"resolved,omitempty"`
}

// MergeAttempt is the durable-while-pending state of a merge that could not
// complete cleanly. It exists from merge start until every conflict is
// resolved and consumed into a merge commit, or the attempt is abandoned.
// The target branch head is never touched while an attempt is pending.
type MergeAttempt struct {
	ID           string            `json:"attempt_id"`
	SourceBranch string            `json:"source_branch"`
	TargetBranch string            `json:"target_branch"`
	SourceCommit Hash              `json:"source_commit"`
	TargetCommit Hash              `json:"target_commit"`
	MergeBase    Hash              `json:"merge_base"`
	Conflicts    []Conflict        `json:"conflicts"`
	CreatedAt    time.Time         `json:"created_at"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Unresolved returns the conflicts still pending resolution.
func (a MergeAttempt) Unresolved() []Conflict {
	var out []Conflict
	for _, c := range a.Conflicts {
		if c.Status != ResolutionResolved {
			out = append(out, c)
		}
	}
	return out
}

// FindConflict returns the conflict with the given id and its index.
func (a MergeAttempt) FindConflict(id string) (Conflict, int, bool) {
	for i, c := range a.Conflicts {
		if c.ID == id {
			return c, i, true
		}
	}
	return Conflict{}, -1, false
}

// MergeResult reports the outcome of a merge call.
type MergeResult struct {
	Commit      Hash          `json:"commit,omitempty"` // merge commit, or new head on fast-forward
	FastForward bool          `json:"fast_forward"`
	UpToDate    bool          `json:"up_to_date"` // source already merged; nothing changed
	Pending     bool          `json:"pending"`    // halted on conflicts
	Attempt     *MergeAttempt `json:"attempt,omitempty"`
}
