package vc

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/op"
	"github.com/evoludigit/pggit/ps"
	"github.com/evoludigit/pggit/sql"
)

// Engine is the version-control engine bound to one author identity.
type Engine struct {
	*ps.Persistence
	Identity core.Identity

	merge *op.MergeOp
}

func NewEngine(persistence *ps.Persistence, identity core.Identity) *Engine {
	return &Engine{
		Persistence: persistence,
		Identity:    identity,
		merge:       op.NewMerge(persistence, identity),
	}
}

// SetUnionMerger swaps the union resolution strategy. The default accepts
// only provably disjoint column additions.
func (e *Engine) SetUnionMerger(m op.UnionMerger) {
	e.merge.Union = m
}

// Commit applies a batch of normalized changes on top of a branch head and
// advances the branch to the resulting commit, emitting a commit_created
// event in the same transaction. The whole batch becomes one commit; a
// batch that leaves the snapshot unchanged returns the current head without
// committing anything.
//
// A concurrent head move fails the final compare-and-swap and nothing is
// published; the caller re-reads and retries.
func (e *Engine) Commit(ctx context.Context, branch string, changes []core.NormalizedChange, message string) (core.Commit, error) {
	if len(changes) == 0 {
		return core.Commit{}, fmt.Errorf("empty change batch")
	}
	if err := ctx.Err(); err != nil {
		return core.Commit{}, err
	}

	done := e.BeginWrite()
	defer done()

	ref, err := e.GetBranch(branch)
	if err != nil {
		return core.Commit{}, err
	}

	byPath := make(map[string]core.TreeEntry)
	var parents []core.Hash
	if !ref.Head.IsZero() {
		parents = append(parents, ref.Head)
		head, err := e.GetCommit(ref.Head)
		if err != nil {
			return core.Commit{}, err
		}
		tree, err := e.GetTree(head.Tree)
		if err != nil {
			return core.Commit{}, err
		}
		byPath = lo.KeyBy(tree.Entries, func(entry core.TreeEntry) string { return entry.Path })
	}

	for _, change := range changes {
		if err := e.applyChange(byPath, change); err != nil {
			return core.Commit{}, err
		}
	}

	tree, err := e.BuildTree(lo.Values(byPath))
	if err != nil {
		return core.Commit{}, err
	}
	if !ref.Head.IsZero() {
		head, err := e.GetCommit(ref.Head)
		if err != nil {
			return core.Commit{}, err
		}
		if head.Tree == tree.Hash {
			return head, nil // batch had no effective change
		}
	}

	commit, err := e.CreateCommit(tree.Hash, parents, e.Identity, message, nil)
	if err != nil {
		return core.Commit{}, err
	}
	event := e.NewEvent(core.EventCommitCreated, branch, commit.Hash, e.Identity)
	if err := e.AdvanceBranch(branch, ref.Head, commit.Hash, []core.Event{event}); err != nil {
		return core.Commit{}, err
	}
	return commit, nil
}

func (e *Engine) applyChange(byPath map[string]core.TreeEntry, change core.NormalizedChange) error {
	switch change.Change {
	case core.ChangeCreate, core.ChangeAlter:
		if change.NewDefinition == "" {
			return fmt.Errorf("%s of %q has no definition", change.Change, change.Path)
		}
		blob, err := e.StoreBlob(change.NewDefinition)
		if err != nil {
			return err
		}
		kind := change.Kind
		if kind == "" {
			detected, ok := sql.DetectKind(change.NewDefinition)
			if !ok {
				return fmt.Errorf("cannot classify definition for %q", change.Path)
			}
			kind = detected
		}
		byPath[change.Path] = core.TreeEntry{Path: change.Path, Kind: kind, Blob: blob}
		return nil

	case core.ChangeDrop:
		if _, ok := byPath[change.Path]; !ok {
			return fmt.Errorf("drop of unknown object %q: %w", change.Path, core.ErrObjectNotFound)
		}
		delete(byPath, change.Path)
		return nil

	default:
		return fmt.Errorf("unknown change kind %q for %q", change.Change, change.Path)
	}
}

// Snapshot returns the full tracked-object snapshot at a branch head.
func (e *Engine) Snapshot(branch string) (core.Tree, error) {
	ref, err := e.GetBranch(branch)
	if err != nil {
		return core.Tree{}, err
	}
	if ref.Head.IsZero() {
		return core.Tree{}, nil
	}
	head, err := e.GetCommit(ref.Head)
	if err != nil {
		return core.Tree{}, err
	}
	return e.GetTree(head.Tree)
}

// ObjectAt returns the normalized definition of one object at a branch
// head.
func (e *Engine) ObjectAt(branch, path string) (string, error) {
	tree, err := e.Snapshot(branch)
	if err != nil {
		return "", err
	}
	entry, ok := tree.Lookup(path)
	if !ok {
		return "", fmt.Errorf("object %q on %q: %w", path, branch, core.ErrObjectNotFound)
	}
	return e.GetBlob(entry.Blob)
}

// ListObjects returns the tracked-object snapshot of one commit.
func (e *Engine) ListObjects(commit core.Hash) (core.Tree, error) {
	c, err := e.GetCommit(commit)
	if err != nil {
		return core.Tree{}, err
	}
	return e.GetTree(c.Tree)
}

// ObjectAtCommit returns the normalized definition of one object in the
// snapshot of a specific commit.
func (e *Engine) ObjectAtCommit(commit core.Hash, path string) (string, error) {
	tree, err := e.ListObjects(commit)
	if err != nil {
		return "", err
	}
	entry, ok := tree.Lookup(path)
	if !ok {
		return "", fmt.Errorf("object %q at %s: %w", path, commit.Short(), core.ErrObjectNotFound)
	}
	return e.GetBlob(entry.Blob)
}

// PathHistory returns the commits on a branch that created, altered or
// dropped one object, newest first. Changes are measured against the first
// parent; limit <= 0 returns everything.
func (e *Engine) PathHistory(ctx context.Context, branch, path string, limit int) ([]core.Commit, error) {
	ref, err := e.GetBranch(branch)
	if err != nil {
		return nil, err
	}
	if ref.Head.IsZero() {
		return nil, nil
	}

	var commits []core.Commit
	for commit, err := range e.WalkHistory(ctx, ref.Head) {
		if err != nil {
			return nil, err
		}
		touched, err := e.touchesPath(commit, path)
		if err != nil {
			return nil, err
		}
		if !touched {
			continue
		}
		commits = append(commits, commit)
		if limit > 0 && len(commits) == limit {
			break
		}
	}
	return commits, nil
}

func (e *Engine) touchesPath(commit core.Commit, path string) (bool, error) {
	blobAt := func(tree core.Hash) (core.Hash, error) {
		t, err := e.GetTree(tree)
		if err != nil {
			return core.ZeroHash, err
		}
		if entry, ok := t.Lookup(path); ok {
			return entry.Blob, nil
		}
		return core.ZeroHash, nil
	}

	current, err := blobAt(commit.Tree)
	if err != nil {
		return false, err
	}
	previous := core.ZeroHash
	if len(commit.Parents) > 0 {
		parent, err := e.GetCommit(commit.Parents[0])
		if err != nil {
			return false, err
		}
		if previous, err = blobAt(parent.Tree); err != nil {
			return false, err
		}
	}
	return current != previous, nil
}

// DiffBranches diffs the snapshots at two branch heads.
func (e *Engine) DiffBranches(from, to string) ([]core.Change, error) {
	fromRef, err := e.GetBranch(from)
	if err != nil {
		return nil, err
	}
	toRef, err := e.GetBranch(to)
	if err != nil {
		return nil, err
	}
	return e.DiffCommits(fromRef.Head, toRef.Head)
}

// History pages through a branch's commit history, newest first. A zero
// after hash starts at the head; limit <= 0 returns everything.
func (e *Engine) History(ctx context.Context, branch string, after core.Hash, limit int) ([]core.Commit, error) {
	ref, err := e.GetBranch(branch)
	if err != nil {
		return nil, err
	}
	if ref.Head.IsZero() {
		return nil, nil
	}
	return e.HistoryPage(ctx, ref.Head, after, limit)
}

// MergeBase returns the merge base of two branch heads.
func (e *Engine) MergeBase(ctx context.Context, a, b string) (core.Hash, error) {
	refA, err := e.GetBranch(a)
	if err != nil {
		return core.ZeroHash, err
	}
	refB, err := e.GetBranch(b)
	if err != nil {
		return core.ZeroHash, err
	}
	return e.FindMergeBase(ctx, refA.Head, refB.Head)
}

// Merge merges source into the target branch. See op.MergeOp.Merge.
func (e *Engine) Merge(ctx context.Context, source, target string, opts op.MergeOptions) (core.MergeResult, error) {
	return e.merge.Merge(ctx, source, target, opts)
}

// ResolveConflict applies one resolution to a pending merge attempt.
func (e *Engine) ResolveConflict(attemptID string, res op.Resolution) (core.MergeAttempt, error) {
	return e.merge.Resolve(attemptID, res)
}

// CompleteMerge finishes a fully resolved attempt.
func (e *Engine) CompleteMerge(ctx context.Context, attemptID, message string) (core.MergeResult, error) {
	return e.merge.Complete(ctx, attemptID, message)
}

// AbortMerge abandons a pending attempt.
func (e *Engine) AbortMerge(attemptID string) error {
	return e.merge.Abort(attemptID)
}

// Conflicts returns the unresolved conflicts of a pending attempt.
func (e *Engine) Conflicts(attemptID string) ([]core.Conflict, error) {
	attempt, err := e.GetAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	return attempt.Unresolved(), nil
}

// ConflictDetails loads the three definitions around one conflict so a
// caller can present them side by side. Absent sides come back empty.
func (e *Engine) ConflictDetails(attemptID, conflictID string) (base, source, target string, err error) {
	attempt, err := e.GetAttempt(attemptID)
	if err != nil {
		return "", "", "", err
	}
	conflict, _, ok := attempt.FindConflict(conflictID)
	if !ok {
		return "", "", "", fmt.Errorf("attempt %s has no conflict %s: %w", attemptID, conflictID, core.ErrObjectNotFound)
	}

	load := func(hash core.Hash) (string, error) {
		if hash.IsZero() {
			return "", nil
		}
		return e.GetBlob(hash)
	}
	if base, err = load(conflict.Base); err != nil {
		return "", "", "", err
	}
	if source, err = load(conflict.Source); err != nil {
		return "", "", "", err
	}
	if target, err = load(conflict.Target); err != nil {
		return "", "", "", err
	}
	return base, source, target, nil
}
