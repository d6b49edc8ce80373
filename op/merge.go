package op

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/ps"
	"github.com/evoludigit/pggit/sql"
)

// MergeOp merges one branch into another. Construct with NewMerge; the zero
// value is not usable.
type MergeOp struct {
	Persistence *ps.Persistence
	Identity    core.Identity
	// Union resolves union-strategy conflicts. Defaults to the column-level
	// merger, which only accepts provably disjoint column additions.
	Union UnionMerger
}

// MergeOptions tunes one merge call.
type MergeOptions struct {
	// Message overrides the generated merge commit message.
	Message string
	// AllowUnrelated permits merging branches with no common ancestor,
	// treating the empty snapshot as the base.
	AllowUnrelated bool
}

func NewMerge(persistence *ps.Persistence, identity core.Identity) *MergeOp {
	return &MergeOp{
		Persistence: persistence,
		Identity:    identity,
		Union:       ColumnUnionMerger{},
	}
}

// Merge merges source into target. Outcomes, in precedence order: target
// already contains source (UpToDate), target head is the merge base
// (FastForward), clean three-way merge (Commit set), or conflicts, which
// park the merge in a durable attempt (Pending set) and leave the target
// head untouched.
func (m *MergeOp) Merge(ctx context.Context, source, target string, opts MergeOptions) (core.MergeResult, error) {
	done := m.Persistence.BeginWrite()
	defer done()

	sourceBranch, err := m.Persistence.GetBranch(source)
	if err != nil {
		return core.MergeResult{}, err
	}
	targetBranch, err := m.Persistence.GetBranch(target)
	if err != nil {
		return core.MergeResult{}, err
	}
	if sourceBranch.Head.IsZero() {
		return core.MergeResult{UpToDate: true}, nil
	}
	if targetBranch.Head.IsZero() {
		// Empty target: adopt the source head wholesale.
		return m.fastForward(target, targetBranch.Head, sourceBranch.Head)
	}

	base, err := m.Persistence.FindMergeBase(ctx, sourceBranch.Head, targetBranch.Head)
	if err != nil {
		if errors.Is(err, core.ErrNoCommonAncestor) && opts.AllowUnrelated {
			base = core.ZeroHash
		} else {
			return core.MergeResult{}, err
		}
	}

	if base == sourceBranch.Head {
		return core.MergeResult{UpToDate: true}, nil
	}
	if base == targetBranch.Head {
		return m.fastForward(target, targetBranch.Head, sourceBranch.Head)
	}

	analysis, err := m.analyze(ctx, base, sourceBranch.Head, targetBranch.Head)
	if err != nil {
		return core.MergeResult{}, err
	}

	if len(analysis.conflicts) > 0 {
		attempt := core.MergeAttempt{
			ID:           uuid.NewString(),
			SourceBranch: source,
			TargetBranch: target,
			SourceCommit: sourceBranch.Head,
			TargetCommit: targetBranch.Head,
			MergeBase:    base,
			Conflicts:    analysis.conflicts,
			CreatedAt:    nowUTC(),
		}
		event := m.Persistence.NewEvent(core.EventMergeConflicted, target, core.ZeroHash, m.Identity)
		event.AttemptID = attempt.ID
		if err := m.Persistence.SaveAttempt(attempt, []core.Event{event}); err != nil {
			return core.MergeResult{}, err
		}
		return core.MergeResult{Pending: true, Attempt: &attempt}, nil
	}

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("Merge branch %q into %q", source, target)
	}
	return m.commitMerged(analysis.merged, sourceBranch.Head, targetBranch.Head, target, message)
}

// Complete finishes a conflicted merge once every conflict is resolved. The
// target head must still be where the attempt found it; anything else is a
// concurrent modification and the caller should re-merge.
//
// The head advance and the attempt removal are separate writes. A crash
// between them leaves the consumed attempt behind as a stale pin; Abort
// deletes it and its pins lapse at the next collection.
func (m *MergeOp) Complete(ctx context.Context, attemptID, message string) (core.MergeResult, error) {
	done := m.Persistence.BeginWrite()
	defer done()

	attempt, err := m.Persistence.GetAttempt(attemptID)
	if err != nil {
		return core.MergeResult{}, err
	}
	if unresolved := attempt.Unresolved(); len(unresolved) > 0 {
		return core.MergeResult{}, &core.MergeConflictError{Attempt: attempt}
	}

	targetBranch, err := m.Persistence.GetBranch(attempt.TargetBranch)
	if err != nil {
		return core.MergeResult{}, err
	}
	if targetBranch.Head != attempt.TargetCommit {
		return core.MergeResult{}, &core.ConcurrentModificationError{
			Branch:   attempt.TargetBranch,
			Expected: attempt.TargetCommit,
			Actual:   targetBranch.Head,
		}
	}

	analysis, err := m.analyze(ctx, attempt.MergeBase, attempt.SourceCommit, attempt.TargetCommit)
	if err != nil {
		return core.MergeResult{}, err
	}
	merged := analysis.merged
	for _, conflict := range attempt.Conflicts {
		if conflict.Resolved.IsZero() {
			delete(merged, conflict.Path)
			continue
		}
		merged[conflict.Path] = core.TreeEntry{
			Path: conflict.Path,
			Kind: conflict.Kind,
			Blob: conflict.Resolved,
		}
	}

	if message == "" {
		message = fmt.Sprintf("Merge branch %q into %q", attempt.SourceBranch, attempt.TargetBranch)
	}
	result, err := m.commitMerged(merged, attempt.SourceCommit, attempt.TargetCommit, attempt.TargetBranch, message)
	if err != nil {
		return core.MergeResult{}, err
	}
	if err := m.Persistence.DeleteAttempt(attempt.ID); err != nil {
		return core.MergeResult{}, err
	}
	result.Attempt = &attempt
	return result, nil
}

// Abort abandons a pending attempt. The target branch was never touched, so
// there is nothing to roll back; the attempt's pins simply lapse.
func (m *MergeOp) Abort(attemptID string) error {
	if _, err := m.Persistence.GetAttempt(attemptID); err != nil {
		return err
	}
	return m.Persistence.DeleteAttempt(attemptID)
}

func (m *MergeOp) fastForward(target string, from, to core.Hash) (core.MergeResult, error) {
	event := m.Persistence.NewEvent(core.EventMergeCompleted, target, to, m.Identity)
	if err := m.Persistence.AdvanceBranch(target, from, to, []core.Event{event}); err != nil {
		return core.MergeResult{}, err
	}
	return core.MergeResult{Commit: to, FastForward: true}, nil
}

func (m *MergeOp) commitMerged(merged map[string]core.TreeEntry, sourceHead, targetHead core.Hash, target, message string) (core.MergeResult, error) {
	entries := make([]core.TreeEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	tree, err := m.Persistence.BuildTree(entries)
	if err != nil {
		return core.MergeResult{}, err
	}

	// First parent is the target head, matching the direction of the merge.
	commit, err := m.Persistence.CreateCommit(tree.Hash, []core.Hash{targetHead, sourceHead}, m.Identity, message, nil)
	if err != nil {
		return core.MergeResult{}, err
	}
	event := m.Persistence.NewEvent(core.EventMergeCompleted, target, commit.Hash, m.Identity)
	if err := m.Persistence.AdvanceBranch(target, targetHead, commit.Hash, []core.Event{event}); err != nil {
		return core.MergeResult{}, err
	}
	return core.MergeResult{Commit: commit.Hash}, nil
}

// mergeAnalysis is the outcome of the three-way comparison: the entries that
// merge automatically, keyed by path, and the conflicts that do not.
type mergeAnalysis struct {
	merged    map[string]core.TreeEntry
	conflicts []core.Conflict
}

// analyze performs the three-way comparison of base, source and target. An
// object changed on one side only (or identically on both) merges
// automatically; an object changed incompatibly on both sides conflicts.
func (m *MergeOp) analyze(ctx context.Context, base, sourceHead, targetHead core.Hash) (mergeAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return mergeAnalysis{}, err
	}

	baseTree := core.ZeroHash
	if !base.IsZero() {
		baseCommit, err := m.Persistence.GetCommit(base)
		if err != nil {
			return mergeAnalysis{}, err
		}
		baseTree = baseCommit.Tree
	}

	sourceChanges, err := m.Persistence.DiffCommits(base, sourceHead)
	if err != nil {
		return mergeAnalysis{}, err
	}
	targetChanges, err := m.Persistence.DiffCommits(base, targetHead)
	if err != nil {
		return mergeAnalysis{}, err
	}

	bySource := make(map[string]core.Change, len(sourceChanges))
	for _, c := range sourceChanges {
		bySource[c.Path] = c
	}
	byTarget := make(map[string]core.Change, len(targetChanges))
	for _, c := range targetChanges {
		byTarget[c.Path] = c
	}

	// Start from the target snapshot and fold in the source side.
	targetCommit, err := m.Persistence.GetCommit(targetHead)
	if err != nil {
		return mergeAnalysis{}, err
	}
	targetSnapshot, err := m.Persistence.GetTree(targetCommit.Tree)
	if err != nil {
		return mergeAnalysis{}, err
	}
	merged := make(map[string]core.TreeEntry, len(targetSnapshot.Entries))
	for _, e := range targetSnapshot.Entries {
		merged[e.Path] = e
	}

	var baseSnapshot core.Tree
	if !baseTree.IsZero() {
		baseSnapshot, err = m.Persistence.GetTree(baseTree)
		if err != nil {
			return mergeAnalysis{}, err
		}
	}

	var conflicts []core.Conflict
	paths := make([]string, 0, len(bySource))
	for path := range bySource {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		sc := bySource[path]
		tc, contested := byTarget[path]
		if !contested {
			// Source-only change applies cleanly.
			if sc.Diff == core.DiffDrop {
				delete(merged, path)
			} else {
				merged[path] = core.TreeEntry{Path: path, Kind: sc.Kind, Blob: sc.NewBlob}
			}
			continue
		}
		if sc.Diff == tc.Diff && sc.NewBlob == tc.NewBlob {
			continue // both sides made the identical change
		}

		baseBlob := core.ZeroHash
		if entry, ok := baseSnapshot.Lookup(path); ok {
			baseBlob = entry.Blob
		}
		kind := sc.Kind
		if kind == "" {
			kind = tc.Kind
		}
		conflicts = append(conflicts, core.Conflict{
			ID:     uuid.NewString(),
			Path:   path,
			Kind:   kind,
			Type:   m.classify(sc, tc, baseBlob),
			Base:   baseBlob,
			Source: sc.NewBlob,
			Target: tc.NewBlob,
			Status: core.ResolutionPending,
		})
	}
	return mergeAnalysis{merged: merged, conflicts: conflicts}, nil
}

// classify picks the conflict type. Drop on either side is delete_modify;
// both sides retyping the same column differently is type_mismatch when the
// definitions parse as tables; everything else is schema_schema.
func (m *MergeOp) classify(sc, tc core.Change, baseBlob core.Hash) core.ConflictType {
	if sc.Diff == core.DiffDrop || tc.Diff == core.DiffDrop {
		return core.ConflictDeleteModify
	}
	if baseBlob.IsZero() {
		return core.ConflictSchemaSchema
	}

	parse := func(blob core.Hash) (*sql.TableDef, bool) {
		definition, err := m.Persistence.GetBlob(blob)
		if err != nil {
			return nil, false
		}
		return sql.ParseCreateTable(definition)
	}
	base, ok := parse(baseBlob)
	if !ok {
		return core.ConflictSchemaSchema
	}
	source, ok := parse(sc.NewBlob)
	if !ok {
		return core.ConflictSchemaSchema
	}
	target, ok := parse(tc.NewBlob)
	if !ok {
		return core.ConflictSchemaSchema
	}
	if _, ok := sql.RetypedColumn(base, source, target); ok {
		return core.ConflictTypeMismatch
	}
	return core.ConflictSchemaSchema
}
