package op

import (
	"context"
	"errors"
	"testing"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/ps"
)

// conflictedMerge sets up a schema/schema conflict on public.t and returns
// the pending attempt.
func conflictedMerge(t *testing.T, p *ps.Persistence, m *MergeOp) core.MergeAttempt {
	t.Helper()
	commitSnapshot(t, p, "main", "init", map[string]string{
		"public.t": "create table t (id int)",
	})
	branchFrom(t, p, "main", "feature")
	commitSnapshot(t, p, "feature", "source", map[string]string{
		"public.t": "create table t (id int, src_col text)",
	})
	commitSnapshot(t, p, "main", "target", map[string]string{
		"public.t": "create table t (id int, tgt_col text)",
	})

	result, err := m.Merge(context.Background(), "feature", "main", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !result.Pending {
		t.Fatalf("Expected pending merge, got %+v", result)
	}
	return *result.Attempt
}

func TestResolveUseSourceAndComplete(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)
	attempt := conflictedMerge(t, p, m)
	conflict := attempt.Conflicts[0]

	updated, err := m.Resolve(attempt.ID, Resolution{ConflictID: conflict.ID, Strategy: core.ResolveUseSource})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if updated.Conflicts[0].Status != core.ResolutionResolved || updated.Conflicts[0].Resolved != conflict.Source {
		t.Errorf("Unexpected resolution: %+v", updated.Conflicts[0])
	}

	result, err := m.Complete(context.Background(), attempt.ID, "")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	commit, err := p.GetCommit(result.Commit)
	if err != nil {
		t.Fatalf("Failed to load merge commit: %v", err)
	}
	if !commit.IsMerge() || commit.Parents[0] != attempt.TargetCommit || commit.Parents[1] != attempt.SourceCommit {
		t.Errorf("Unexpected merge parents: %v", commit.Parents)
	}

	tree, _ := p.GetTree(commit.Tree)
	entry, ok := tree.Lookup("public.t")
	if !ok || entry.Blob != conflict.Source {
		t.Errorf("Expected source definition to win, got %+v", entry)
	}

	// Attempt consumed, head advanced, event emitted.
	if _, err := p.GetAttempt(attempt.ID); !errors.Is(err, core.ErrObjectNotFound) {
		t.Errorf("Expected attempt consumed, got %v", err)
	}
	main, _ := p.GetBranch("main")
	if main.Head != result.Commit {
		t.Errorf("Expected main at merge commit")
	}
	events, _ := p.Events(0, 0)
	last := events[len(events)-1]
	if last.Kind != core.EventMergeCompleted || last.Commit != result.Commit {
		t.Errorf("Expected merge_completed event, got %+v", last)
	}
}

func TestResolveUseTargetKeepsTargetDefinition(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)
	attempt := conflictedMerge(t, p, m)
	conflict := attempt.Conflicts[0]

	if _, err := m.Resolve(attempt.ID, Resolution{ConflictID: conflict.ID, Strategy: core.ResolveUseTarget}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	result, err := m.Complete(context.Background(), attempt.ID, "keep target")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	commit, _ := p.GetCommit(result.Commit)
	tree, _ := p.GetTree(commit.Tree)
	entry, _ := tree.Lookup("public.t")
	if entry.Blob != conflict.Target {
		t.Errorf("Expected target definition to win, got %+v", entry)
	}
}

func TestResolveUnionMergesDisjointAdditions(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)
	attempt := conflictedMerge(t, p, m)
	conflict := attempt.Conflicts[0]

	if _, err := m.Resolve(attempt.ID, Resolution{ConflictID: conflict.ID, Strategy: core.ResolveUnion}); err != nil {
		t.Fatalf("Union resolve failed: %v", err)
	}
	result, err := m.Complete(context.Background(), attempt.ID, "union")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	commit, _ := p.GetCommit(result.Commit)
	tree, _ := p.GetTree(commit.Tree)
	entry, _ := tree.Lookup("public.t")
	definition, _ := p.GetBlob(entry.Blob)
	want := "create table t (id int, src_col text, tgt_col text)"
	if definition != want {
		t.Errorf("Expected union %q, got %q", want, definition)
	}
}

func TestResolveUnionRejectsOverlappingAdditions(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)

	commitSnapshot(t, p, "main", "init", map[string]string{
		"public.t": "create table t (id int)",
	})
	branchFrom(t, p, "main", "feature")
	commitSnapshot(t, p, "feature", "source", map[string]string{
		"public.t": "create table t (id int, v text)",
	})
	commitSnapshot(t, p, "main", "target", map[string]string{
		"public.t": "create table t (id int, v int)",
	})
	result, err := m.Merge(context.Background(), "feature", "main", MergeOptions{})
	if err != nil || !result.Pending {
		t.Fatalf("Expected pending merge, got %+v err=%v", result, err)
	}

	_, err = m.Resolve(result.Attempt.ID, Resolution{
		ConflictID: result.Attempt.Conflicts[0].ID,
		Strategy:   core.ResolveUnion,
	})
	if !errors.Is(err, core.ErrInvalidConflictResolution) {
		t.Fatalf("Expected ErrInvalidConflictResolution, got %v", err)
	}

	// The conflict stays pending after a failed resolution.
	attempt, _ := p.GetAttempt(result.Attempt.ID)
	if attempt.Conflicts[0].Status != core.ResolutionPending {
		t.Errorf("Expected conflict to stay pending, got %+v", attempt.Conflicts[0])
	}
}

func TestResolveUnionRejectedForDeleteModify(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)

	commitSnapshot(t, p, "main", "init", map[string]string{"public.t": "create table t (id int)"})
	branchFrom(t, p, "main", "feature")
	commitSnapshot(t, p, "feature", "drop", map[string]string{})
	commitSnapshot(t, p, "main", "modify", map[string]string{"public.t": "create table t (id int, v text)"})

	result, err := m.Merge(context.Background(), "feature", "main", MergeOptions{})
	if err != nil || !result.Pending {
		t.Fatalf("Expected pending merge, got %+v err=%v", result, err)
	}
	_, err = m.Resolve(result.Attempt.ID, Resolution{
		ConflictID: result.Attempt.Conflicts[0].ID,
		Strategy:   core.ResolveUnion,
	})
	var re *core.ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("Expected ResolutionError, got %v", err)
	}
	if re.Type != core.ConflictDeleteModify {
		t.Errorf("Expected error to carry conflict type, got %+v", re)
	}
}

func TestResolveManual(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)
	attempt := conflictedMerge(t, p, m)
	conflict := attempt.Conflicts[0]

	if _, err := m.Resolve(attempt.ID, Resolution{
		ConflictID: conflict.ID,
		Strategy:   core.ResolveManual,
		Content:    "CREATE TABLE t (id INT, merged_col JSONB)",
	}); err != nil {
		t.Fatalf("Manual resolve failed: %v", err)
	}

	result, err := m.Complete(context.Background(), attempt.ID, "manual")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	commit, _ := p.GetCommit(result.Commit)
	tree, _ := p.GetTree(commit.Tree)
	entry, _ := tree.Lookup("public.t")
	definition, _ := p.GetBlob(entry.Blob)
	if definition != "create table t (id int, merged_col jsonb)" {
		t.Errorf("Expected normalized manual content, got %q", definition)
	}
}

func TestResolveManualRequiresContent(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)
	attempt := conflictedMerge(t, p, m)

	_, err := m.Resolve(attempt.ID, Resolution{
		ConflictID: attempt.Conflicts[0].ID,
		Strategy:   core.ResolveManual,
	})
	if !errors.Is(err, core.ErrInvalidConflictResolution) {
		t.Errorf("Expected ErrInvalidConflictResolution, got %v", err)
	}
}

func TestCompleteRefusesUnresolved(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)
	attempt := conflictedMerge(t, p, m)

	_, err := m.Complete(context.Background(), attempt.ID, "")
	if !errors.Is(err, core.ErrMergeConflictPending) {
		t.Fatalf("Expected ErrMergeConflictPending, got %v", err)
	}
	var mce *core.MergeConflictError
	if !errors.As(err, &mce) || len(mce.Attempt.Unresolved()) != 1 {
		t.Errorf("Expected error to carry the attempt, got %v", err)
	}
}

func TestCompleteDetectsMovedTarget(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)
	attempt := conflictedMerge(t, p, m)

	if _, err := m.Resolve(attempt.ID, Resolution{
		ConflictID: attempt.Conflicts[0].ID,
		Strategy:   core.ResolveUseSource,
	}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Someone commits to main while the attempt is parked.
	commitSnapshot(t, p, "main", "concurrent", map[string]string{
		"public.t": "create table t (id int, tgt_col text, extra int)",
	})

	_, err := m.Complete(context.Background(), attempt.ID, "")
	if !errors.Is(err, core.ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification, got %v", err)
	}
	// The attempt survives for the caller to abort or re-merge.
	if _, err := p.GetAttempt(attempt.ID); err != nil {
		t.Errorf("Expected attempt to survive: %v", err)
	}
}

func TestResolveDropViaUseSource(t *testing.T) {
	p := newTestPersistence(t)
	m := NewMerge(p, testAuthor)

	commitSnapshot(t, p, "main", "init", map[string]string{"public.t": "create table t (id int)"})
	branchFrom(t, p, "main", "feature")
	commitSnapshot(t, p, "feature", "drop", map[string]string{})
	commitSnapshot(t, p, "main", "modify", map[string]string{"public.t": "create table t (id int, v text)"})

	result, _ := m.Merge(context.Background(), "feature", "main", MergeOptions{})
	if _, err := m.Resolve(result.Attempt.ID, Resolution{
		ConflictID: result.Attempt.Conflicts[0].ID,
		Strategy:   core.ResolveUseSource,
	}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	completed, err := m.Complete(context.Background(), result.Attempt.ID, "take the drop")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	commit, _ := p.GetCommit(completed.Commit)
	tree, _ := p.GetTree(commit.Tree)
	if _, ok := tree.Lookup("public.t"); ok {
		t.Error("Expected resolved drop to remove the object")
	}
}
