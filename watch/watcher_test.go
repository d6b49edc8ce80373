package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/ps"
	"github.com/evoludigit/pggit/vc"
)

var testAuthor = core.Identity{Name: "Alice", Email: "alice@example.com"}

// newTestWatcher builds a Watcher without fsnotify for unit testing the
// batching logic.
func newTestWatcher(t *testing.T, dir string) (*Watcher, *vc.Engine) {
	t.Helper()
	p, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	engine := vc.NewEngine(p, testAuthor)
	if _, err := engine.CreateBranch("main", core.ZeroHash, testAuthor); err != nil {
		t.Fatalf("Failed to create branch: %v", err)
	}
	return &Watcher{Dir: dir, Branch: "main", engine: engine}, engine
}

func writeDefinition(t *testing.T, dir, name, definition string) string {
	t.Helper()
	file := filepath.Join(dir, name)
	if err := os.WriteFile(file, []byte(definition), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return file
}

func TestCommitFilesCreatesTrackedObjects(t *testing.T) {
	dir := t.TempDir()
	w, engine := newTestWatcher(t, dir)

	users := writeDefinition(t, dir, "public.users.sql", "CREATE TABLE users (id INT)")
	orders := writeDefinition(t, dir, "public.orders.sql", "CREATE TABLE orders (id INT)")

	commit, paths, err := w.commitFiles(context.Background(), []string{users, orders})
	if err != nil {
		t.Fatalf("commitFiles failed: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("Expected 2 paths, got %v", paths)
	}
	if commit.Hash.IsZero() {
		t.Fatal("Expected a commit")
	}

	definition, err := engine.ObjectAt("main", "public.users")
	if err != nil || definition != "create table users (id int)" {
		t.Errorf("Unexpected definition %q err=%v", definition, err)
	}
}

func TestCommitFilesAltersAndDrops(t *testing.T) {
	dir := t.TempDir()
	w, engine := newTestWatcher(t, dir)

	users := writeDefinition(t, dir, "public.users.sql", "CREATE TABLE users (id INT)")
	orders := writeDefinition(t, dir, "public.orders.sql", "CREATE TABLE orders (id INT)")
	if _, _, err := w.commitFiles(context.Background(), []string{users, orders}); err != nil {
		t.Fatalf("Initial commit failed: %v", err)
	}

	writeDefinition(t, dir, "public.users.sql", "CREATE TABLE users (id INT, email TEXT)")
	if err := os.Remove(orders); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	commit, _, err := w.commitFiles(context.Background(), []string{users, orders})
	if err != nil {
		t.Fatalf("Second batch failed: %v", err)
	}
	if len(commit.Parents) != 1 {
		t.Errorf("Expected one parent, got %v", commit.Parents)
	}

	tree, _ := engine.Snapshot("main")
	if _, ok := tree.Lookup("public.orders"); ok {
		t.Error("Expected public.orders dropped")
	}
	definition, _ := engine.ObjectAt("main", "public.users")
	if definition != "create table users (id int, email text)" {
		t.Errorf("Unexpected definition %q", definition)
	}
}

func TestCommitFilesSkipsUntrackedRemovals(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWatcher(t, dir)

	// A scratch file created and deleted before the flush.
	ghost := filepath.Join(dir, "public.scratch.sql")
	commit, paths, err := w.commitFiles(context.Background(), []string{ghost})
	if err != nil {
		t.Fatalf("commitFiles failed: %v", err)
	}
	if !commit.Hash.IsZero() || len(paths) != 0 {
		t.Errorf("Expected empty batch, got commit=%v paths=%v", commit, paths)
	}
}

func TestSyncReconcilesDirectoryAndBranch(t *testing.T) {
	dir := t.TempDir()
	w, engine := newTestWatcher(t, dir)

	// Branch tracks users and legacy; disk has users (changed) and orders.
	if _, err := engine.Commit(context.Background(), "main", []core.NormalizedChange{
		{Change: core.ChangeCreate, Path: "public.users", NewDefinition: "CREATE TABLE users (id INT)"},
		{Change: core.ChangeCreate, Path: "public.legacy", NewDefinition: "CREATE TABLE legacy (id INT)"},
	}, "seed"); err != nil {
		t.Fatalf("Seed commit failed: %v", err)
	}
	writeDefinition(t, dir, "public.users.sql", "CREATE TABLE users (id INT, email TEXT)")
	writeDefinition(t, dir, "public.orders.sql", "CREATE TABLE orders (id INT)")

	commit, err := w.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if commit.Hash.IsZero() {
		t.Fatal("Expected a commit")
	}

	tree, _ := engine.Snapshot("main")
	if _, ok := tree.Lookup("public.legacy"); ok {
		t.Error("Expected legacy dropped")
	}
	if _, ok := tree.Lookup("public.orders"); !ok {
		t.Error("Expected orders created")
	}
	definition, _ := engine.ObjectAt("main", "public.users")
	if definition != "create table users (id int, email text)" {
		t.Errorf("Unexpected definition %q", definition)
	}
}

func TestSyncWithNoDifferences(t *testing.T) {
	dir := t.TempDir()
	w, engine := newTestWatcher(t, dir)

	writeDefinition(t, dir, "public.users.sql", "CREATE TABLE users (id INT)")
	if _, err := w.Sync(context.Background()); err != nil {
		t.Fatalf("First sync failed: %v", err)
	}
	head, _ := engine.GetBranch("main")

	// Nothing changed on disk; the branch must not move.
	if _, err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	after, _ := engine.GetBranch("main")
	if after.Head != head.Head {
		t.Error("Expected head unchanged after no-op sync")
	}
}

func TestDefinitionFileFilter(t *testing.T) {
	if !isDefinitionFile("/x/public.users.sql") {
		t.Error("Expected .sql files accepted")
	}
	if isDefinitionFile("/x/notes.md") || isDefinitionFile("/x/.hidden.sql") {
		t.Error("Expected non-definition files rejected")
	}
	if objectPath("/x/public.users.sql") != "public.users" {
		t.Errorf("Unexpected object path %q", objectPath("/x/public.users.sql"))
	}
}
