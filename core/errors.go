package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is; the richer error types
// below wrap these sentinels and carry enough context to retry or resolve
// without re-querying.
var (
	ErrDuplicateBranch           = errors.New("branch already exists")
	ErrBranchNotFound            = errors.New("branch not found")
	ErrCommitNotFound            = errors.New("commit not found")
	ErrObjectNotFound            = errors.New("object not found")
	ErrConcurrentModification    = errors.New("concurrent branch modification")
	ErrNoCommonAncestor          = errors.New("no common ancestor")
	ErrMergeConflictPending      = errors.New("merge halted on unresolved conflicts")
	ErrInvalidConflictResolution = errors.New("resolution strategy not applicable to conflict")

	// ErrGCReferential must never occur when GC is correct; it is a fatal
	// invariant violation, not a recoverable condition.
	ErrGCReferential = errors.New("gc attempted to delete a reachable object")
)

// ConcurrentModificationError reports a failed compare-and-swap on a branch
// head: the caller's expected head no longer matches the stored head.
type ConcurrentModificationError struct {
	Branch   string
	Expected Hash
	Actual   Hash
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("branch %q moved: expected head %s, found %s",
		e.Branch, e.Expected.Short(), e.Actual.Short())
}

func (e *ConcurrentModificationError) Unwrap() error {
	return ErrConcurrentModification
}

// MergeConflictError reports a merge halted on conflicts, carrying the
// persisted attempt so the caller can resolve and resume.
type MergeConflictError struct {
	Attempt MergeAttempt
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge of %q into %q halted: %d unresolved conflict(s), attempt %s",
		e.Attempt.SourceBranch, e.Attempt.TargetBranch,
		len(e.Attempt.Unresolved()), e.Attempt.ID)
}

func (e *MergeConflictError) Unwrap() error {
	return ErrMergeConflictPending
}

// ResolutionError reports an inapplicable resolution strategy.
type ResolutionError struct {
	ConflictID string
	Type       ConflictType
	Strategy   ResolutionStrategy
	Reason     string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve conflict %s (%s) with %s: %s",
		e.ConflictID, e.Type, e.Strategy, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return ErrInvalidConflictResolution
}
