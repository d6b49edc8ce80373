package ps

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v6/memfs"

	"github.com/evoludigit/pggit/core"
)

// The store contract tests run against every backend; the higher-level
// suites stay on the memory store.
func forEachStore(t *testing.T, run func(t *testing.T, p *Persistence)) {
	t.Helper()
	backends := []struct {
		name string
		open func(t *testing.T) (*Persistence, error)
	}{
		{"memory", func(t *testing.T) (*Persistence, error) { return NewMemoryPersistence() }},
		{"file", func(t *testing.T) (*Persistence, error) { return NewFilePersistenceFS(memfs.New()) }},
		{"sqlite", func(t *testing.T) (*Persistence, error) {
			return NewSQLitePersistence(filepath.Join(t.TempDir(), "store.db"))
		}},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			p, err := b.open(t)
			if err != nil {
				t.Fatalf("Failed to open %s store: %v", b.name, err)
			}
			t.Cleanup(func() { p.Close() })
			run(t, p)
		})
	}
}

func TestStoreObjectRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, p *Persistence) {
		commit := seedCommit(t, p, "create table users (id int, email text)", "init")

		loaded, err := p.GetCommit(commit.Hash)
		if err != nil {
			t.Fatalf("Failed to reload commit: %v", err)
		}
		if loaded.Tree != commit.Tree || loaded.Message != "init" {
			t.Errorf("Commit did not round-trip: %+v", loaded)
		}

		tree, err := p.GetTree(commit.Tree)
		if err != nil {
			t.Fatalf("Failed to reload tree: %v", err)
		}
		definition, err := p.GetBlob(tree.Entries[0].Blob)
		if err != nil {
			t.Fatalf("Failed to reload blob: %v", err)
		}
		if definition != "create table users (id int, email text)" {
			t.Errorf("Unexpected definition: %q", definition)
		}
	})
}

func TestStoreRefLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, p *Persistence) {
		root := seedCommit(t, p, "create table t (id int)", "init")
		next := seedCommit(t, p, "create table t (id int, v text)", "next", root.Hash)

		if _, err := p.CreateBranch("main", root.Hash, testAuthor); err != nil {
			t.Fatalf("Failed to create branch: %v", err)
		}
		if _, err := p.CreateBranch("main", root.Hash, testAuthor); !errors.Is(err, core.ErrDuplicateBranch) {
			t.Errorf("Expected ErrDuplicateBranch, got %v", err)
		}

		event := p.NewEvent(core.EventCommitCreated, "main", next.Hash, testAuthor)
		if err := p.AdvanceBranch("main", root.Hash, next.Hash, []core.Event{event}); err != nil {
			t.Fatalf("Failed to advance: %v", err)
		}
		if err := p.AdvanceBranch("main", root.Hash, next.Hash, nil); !errors.Is(err, core.ErrConcurrentModification) {
			t.Errorf("Expected ErrConcurrentModification, got %v", err)
		}

		branch, err := p.GetBranch("main")
		if err != nil {
			t.Fatalf("Failed to get branch: %v", err)
		}
		if branch.Head != next.Hash {
			t.Errorf("Expected head %s, got %s", next.Hash.Short(), branch.Head.Short())
		}

		events, err := p.Events(0, 0)
		if err != nil {
			t.Fatalf("Failed to read events: %v", err)
		}
		if len(events) != 1 || events[0].Seq != 1 || events[0].Commit != next.Hash {
			t.Errorf("Unexpected events: %+v", events)
		}
	})
}

func TestStoreEventsPaging(t *testing.T) {
	forEachStore(t, func(t *testing.T, p *Persistence) {
		var batch []core.Event
		for range 5 {
			batch = append(batch, p.NewEvent(core.EventCommitCreated, "main", "", testAuthor))
		}
		if err := p.store.AppendEvents(batch); err != nil {
			t.Fatalf("Failed to append events: %v", err)
		}

		page, err := p.Events(2, 2)
		if err != nil {
			t.Fatalf("Failed to read events: %v", err)
		}
		if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
			t.Errorf("Unexpected page: %+v", page)
		}

		rest, err := p.Events(4, 0)
		if err != nil {
			t.Fatalf("Failed to read events: %v", err)
		}
		if len(rest) != 1 || rest[0].Seq != 5 {
			t.Errorf("Unexpected tail: %+v", rest)
		}
	})
}

func TestStoreAttemptLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, p *Persistence) {
		attempt := core.MergeAttempt{
			ID:           "attempt-1",
			SourceBranch: "feature",
			TargetBranch: "main",
			SourceCommit: "a",
			TargetCommit: "b",
			MergeBase:    "c",
			Conflicts: []core.Conflict{{
				ID: "conflict-1", Path: "public.t", Kind: core.KindTable,
				Type: core.ConflictSchemaSchema, Status: core.ResolutionPending,
			}},
		}
		if err := p.SaveAttempt(attempt, nil); err != nil {
			t.Fatalf("Failed to save attempt: %v", err)
		}

		loaded, err := p.GetAttempt("attempt-1")
		if err != nil {
			t.Fatalf("Failed to get attempt: %v", err)
		}
		if len(loaded.Conflicts) != 1 || loaded.Conflicts[0].Status != core.ResolutionPending {
			t.Errorf("Attempt did not round-trip: %+v", loaded)
		}

		// Resolution overwrites the stored record.
		loaded.Conflicts[0].Status = core.ResolutionResolved
		loaded.Conflicts[0].Strategy = core.ResolveUseSource
		if err := p.SaveAttempt(loaded, nil); err != nil {
			t.Fatalf("Failed to update attempt: %v", err)
		}
		again, err := p.GetAttempt("attempt-1")
		if err != nil {
			t.Fatalf("Failed to reload attempt: %v", err)
		}
		if again.Conflicts[0].Status != core.ResolutionResolved {
			t.Errorf("Expected resolution to persist, got %+v", again.Conflicts[0])
		}

		if err := p.DeleteAttempt("attempt-1"); err != nil {
			t.Fatalf("Failed to delete attempt: %v", err)
		}
		if _, err := p.GetAttempt("attempt-1"); !errors.Is(err, core.ErrObjectNotFound) {
			t.Errorf("Expected ErrObjectNotFound, got %v", err)
		}
	})
}

// Reopening a file store must resume the event sequence where it left off.
func TestFileStoreResumesSequence(t *testing.T) {
	fs := memfs.New()
	p, err := NewFilePersistenceFS(fs)
	if err != nil {
		t.Fatalf("Failed to open file store: %v", err)
	}
	if err := p.store.AppendEvents([]core.Event{
		p.NewEvent(core.EventCommitCreated, "main", "", testAuthor),
		p.NewEvent(core.EventCommitCreated, "main", "", testAuthor),
	}); err != nil {
		t.Fatalf("Failed to append events: %v", err)
	}
	p.Close()

	reopened, err := NewFilePersistenceFS(fs)
	if err != nil {
		t.Fatalf("Failed to reopen file store: %v", err)
	}
	defer reopened.Close()
	if err := reopened.store.AppendEvents([]core.Event{
		reopened.NewEvent(core.EventCommitCreated, "main", "", testAuthor),
	}); err != nil {
		t.Fatalf("Failed to append events: %v", err)
	}

	events, err := reopened.Events(0, 0)
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 3 || events[2].Seq != 3 {
		t.Errorf("Expected sequence to resume at 3, got %+v", events)
	}
}

// A cache entry is not proof the object file still exists: an unlocked read
// can repopulate the cache while a collection sweep removes the file. A
// later re-store of the same content must reach the disk again.
func TestFileStoreRewritesSweptObject(t *testing.T) {
	fs := memfs.New()
	p, err := NewFilePersistenceFS(fs)
	if err != nil {
		t.Fatalf("Failed to open file store: %v", err)
	}
	defer p.Close()

	hash, err := p.StoreBlob("create table t (id int)")
	if err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}
	if _, err := p.GetBlob(hash); err != nil { // warms the cache
		t.Fatalf("Failed to read blob: %v", err)
	}

	// The file vanishes underneath the warm cache.
	store := p.store.(*fileStore)
	if err := store.fs.Remove(objectPath("blobs", hash)); err != nil {
		t.Fatalf("Failed to remove object file: %v", err)
	}

	if _, err := p.StoreBlob("create table t (id int)"); err != nil {
		t.Fatalf("Failed to re-store blob: %v", err)
	}
	store.cache.Purge()
	definition, err := p.GetBlob(hash)
	if err != nil {
		t.Fatalf("Expected the re-store to reach the disk: %v", err)
	}
	if definition != "create table t (id int)" {
		t.Errorf("Unexpected definition: %q", definition)
	}
}
