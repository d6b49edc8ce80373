package ps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evoludigit/pggit/core"
)

func TestCollectSweepsAbandonedHistory(t *testing.T) {
	p := newTestPersistence(t)

	kept := seedCommit(t, p, "create table kept (id int)", "kept")
	if _, err := p.CreateBranch("main", kept.Hash, testAuthor); err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}

	doomedRoot := seedCommit(t, p, "create table doomed (id int)", "doomed root")
	doomedTip := seedCommit(t, p, "create table doomed (id int, v text)", "doomed tip", doomedRoot.Hash)
	if _, err := p.CreateBranch("scratch", doomedTip.Hash, testAuthor); err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
	if err := p.DeleteBranch("scratch"); err != nil {
		t.Fatalf("Failed to delete branch: %v", err)
	}

	stats, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if stats.SweptCommits != 2 {
		t.Errorf("Expected 2 swept commits, got %+v", stats)
	}

	if _, err := p.GetCommit(kept.Hash); err != nil {
		t.Errorf("Reachable commit was swept: %v", err)
	}
	if _, err := p.GetCommit(doomedTip.Hash); !errors.Is(err, core.ErrCommitNotFound) {
		t.Errorf("Expected abandoned commit to be swept, got %v", err)
	}
	if _, err := p.GetTree(doomedTip.Tree); !errors.Is(err, core.ErrObjectNotFound) {
		t.Errorf("Expected abandoned tree to be swept, got %v", err)
	}
}

func TestCollectKeepsSharedBlobs(t *testing.T) {
	p := newTestPersistence(t)

	// Same definition on both branches: one shared blob.
	kept := seedCommit(t, p, "create table shared (id int)", "kept")
	doomed := seedCommit(t, p, "create table shared (id int)", "doomed, different message")
	if _, err := p.CreateBranch("main", kept.Hash, testAuthor); err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
	_ = doomed

	if _, err := p.Collect(context.Background()); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	tree, err := p.GetTree(kept.Tree)
	if err != nil {
		t.Fatalf("Shared tree was swept: %v", err)
	}
	if _, err := p.GetBlob(tree.Entries[0].Blob); err != nil {
		t.Errorf("Shared blob was swept: %v", err)
	}
	if _, err := p.GetCommit(doomed.Hash); !errors.Is(err, core.ErrCommitNotFound) {
		t.Errorf("Expected unreachable commit to be swept, got %v", err)
	}
}

func TestCollectPinsPendingAttempts(t *testing.T) {
	p := newTestPersistence(t)

	base := seedCommit(t, p, "create table t (id int)", "base")
	source := seedCommit(t, p, "create table t (id int, s text)", "source", base.Hash)
	target := seedCommit(t, p, "create table t (id int, g text)", "target", base.Hash)
	if _, err := p.CreateBranch("main", target.Hash, testAuthor); err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
	// Source branch deleted mid-merge; only the attempt keeps it alive.
	sourceTree, _ := p.GetTree(source.Tree)

	attempt := core.MergeAttempt{
		ID:           uuid.NewString(),
		SourceBranch: "feature",
		TargetBranch: "main",
		SourceCommit: source.Hash,
		TargetCommit: target.Hash,
		MergeBase:    base.Hash,
		Conflicts: []core.Conflict{{
			ID:     uuid.NewString(),
			Path:   "public.t",
			Kind:   core.KindTable,
			Type:   core.ConflictSchemaSchema,
			Source: sourceTree.Entries[0].Blob,
			Status: core.ResolutionPending,
		}},
		CreatedAt: time.Now().UTC(),
	}
	if err := p.SaveAttempt(attempt, nil); err != nil {
		t.Fatalf("Failed to save attempt: %v", err)
	}

	if _, err := p.Collect(context.Background()); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	for _, hash := range []core.Hash{base.Hash, source.Hash, target.Hash} {
		if _, err := p.GetCommit(hash); err != nil {
			t.Errorf("Attempt-pinned commit %s was swept: %v", hash.Short(), err)
		}
	}
	if _, err := p.GetBlob(sourceTree.Entries[0].Blob); err != nil {
		t.Errorf("Conflict blob was swept: %v", err)
	}

	// Once the attempt is gone, the orphaned source side is collectable.
	if err := p.DeleteAttempt(attempt.ID); err != nil {
		t.Fatalf("Failed to delete attempt: %v", err)
	}
	if _, err := p.Collect(context.Background()); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, err := p.GetCommit(source.Hash); !errors.Is(err, core.ErrCommitNotFound) {
		t.Errorf("Expected orphaned source commit to be swept, got %v", err)
	}
}

func TestCollectHonorsPins(t *testing.T) {
	p := newTestPersistence(t)

	pinned := seedCommit(t, p, "create table pinned (id int)", "pinned")

	if _, err := p.Collect(context.Background(), pinned.Hash); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, err := p.GetCommit(pinned.Hash); err != nil {
		t.Errorf("Pinned commit was swept: %v", err)
	}
}

func TestCollectEmptyStore(t *testing.T) {
	p := newTestPersistence(t)
	stats, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if stats.SweptCommits != 0 || stats.SweptTrees != 0 || stats.SweptBlobs != 0 {
		t.Errorf("Expected nothing swept, got %+v", stats)
	}
}
