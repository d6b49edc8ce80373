package ps

import (
	"errors"
	"testing"

	"github.com/evoludigit/pggit/core"
)

var testAuthor = core.Identity{Name: "Alice", Email: "alice@example.com"}

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()
	p, err := NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to open memory persistence: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// seedCommit stores one blob, one tree and one commit on top of parents.
func seedCommit(t *testing.T, p *Persistence, definition, message string, parents ...core.Hash) core.Commit {
	t.Helper()
	blob, err := p.StoreBlob(definition)
	if err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}
	tree, err := p.BuildTree([]core.TreeEntry{{Path: "public.users", Kind: core.KindTable, Blob: blob}})
	if err != nil {
		t.Fatalf("Failed to build tree: %v", err)
	}
	commit, err := p.CreateCommit(tree.Hash, parents, testAuthor, message, nil)
	if err != nil {
		t.Fatalf("Failed to create commit: %v", err)
	}
	return commit
}

func TestStoreBlobDeduplicates(t *testing.T) {
	p := newTestPersistence(t)

	a, err := p.StoreBlob("CREATE TABLE users (\n  id INT\n);")
	if err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}
	b, err := p.StoreBlob("create   table users(id int)")
	if err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}
	if a != b {
		t.Errorf("Expected equivalent definitions to share a blob, got %s and %s", a.Short(), b.Short())
	}

	c, err := p.StoreBlob("create table users (id bigint)")
	if err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}
	if a == c {
		t.Error("Expected different definitions to hash differently")
	}

	content, err := p.GetBlob(a)
	if err != nil {
		t.Fatalf("Failed to get blob: %v", err)
	}
	if content != "create table users (id int)" {
		t.Errorf("Unexpected normalized content: %q", content)
	}
}

func TestGetBlobNotFound(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.GetBlob("deadbeef")
	if err == nil {
		t.Fatal("Expected error for unknown blob")
	}
	if !errors.Is(err, core.ErrObjectNotFound) {
		t.Errorf("Expected ErrObjectNotFound, got %v", err)
	}
}

func TestBuildTreeOrderIndependent(t *testing.T) {
	p := newTestPersistence(t)

	users, _ := p.StoreBlob("create table users (id int)")
	orders, _ := p.StoreBlob("create table orders (id int)")

	a, err := p.BuildTree([]core.TreeEntry{
		{Path: "public.users", Kind: core.KindTable, Blob: users},
		{Path: "public.orders", Kind: core.KindTable, Blob: orders},
	})
	if err != nil {
		t.Fatalf("Failed to build tree: %v", err)
	}
	b, err := p.BuildTree([]core.TreeEntry{
		{Path: "public.orders", Kind: core.KindTable, Blob: orders},
		{Path: "public.users", Kind: core.KindTable, Blob: users},
	})
	if err != nil {
		t.Fatalf("Failed to build tree: %v", err)
	}
	if a.Hash != b.Hash {
		t.Errorf("Expected entry order not to affect tree hash: %s vs %s", a.Hash.Short(), b.Hash.Short())
	}

	loaded, err := p.GetTree(a.Hash)
	if err != nil {
		t.Fatalf("Failed to get tree: %v", err)
	}
	if len(loaded.Entries) != 2 || loaded.Entries[0].Path != "public.orders" {
		t.Errorf("Expected sorted entries, got %+v", loaded.Entries)
	}
}

func TestBuildTreeRejectsDuplicatePaths(t *testing.T) {
	p := newTestPersistence(t)
	blob, _ := p.StoreBlob("create table t (id int)")

	_, err := p.BuildTree([]core.TreeEntry{
		{Path: "public.t", Kind: core.KindTable, Blob: blob},
		{Path: "public.t", Kind: core.KindTable, Blob: blob},
	})
	if err == nil {
		t.Fatal("Expected duplicate paths to be rejected")
	}
}

func TestCreateCommitIdempotent(t *testing.T) {
	p := newTestPersistence(t)

	first := seedCommit(t, p, "create table t (id int)", "init")
	second := seedCommit(t, p, "create table t (id int)", "init")

	if first.Hash != second.Hash {
		t.Errorf("Expected identical logical commits to share a hash: %s vs %s",
			first.Hash.Short(), second.Hash.Short())
	}
	if !second.When.Equal(first.When) {
		t.Error("Expected replay to keep the first stored timestamp")
	}
}

func TestCommitHashCoversMessageAndParents(t *testing.T) {
	p := newTestPersistence(t)

	root := seedCommit(t, p, "create table t (id int)", "init")
	a := seedCommit(t, p, "create table t (id int, v text)", "add v", root.Hash)
	b := seedCommit(t, p, "create table t (id int, v text)", "different message", root.Hash)
	c := seedCommit(t, p, "create table t (id int, v text)", "add v")

	if a.Hash == b.Hash {
		t.Error("Expected message to affect commit hash")
	}
	if a.Hash == c.Hash {
		t.Error("Expected parents to affect commit hash")
	}
}

func TestCommitRoundTrips(t *testing.T) {
	p := newTestPersistence(t)

	root := seedCommit(t, p, "create table t (id int)", "init")
	child, err := p.CreateCommit(root.Tree, []core.Hash{root.Hash}, testAuthor,
		"multi\n\nline message", map[string]string{"ticket": "SCM-42"})
	if err != nil {
		t.Fatalf("Failed to create commit: %v", err)
	}

	loaded, err := p.GetCommit(child.Hash)
	if err != nil {
		t.Fatalf("Failed to get commit: %v", err)
	}
	if loaded.Message != "multi\n\nline message" {
		t.Errorf("Unexpected message: %q", loaded.Message)
	}
	if loaded.Author != "Alice <alice@example.com>" {
		t.Errorf("Unexpected author: %q", loaded.Author)
	}
	if len(loaded.Parents) != 1 || loaded.Parents[0] != root.Hash {
		t.Errorf("Unexpected parents: %v", loaded.Parents)
	}
	if loaded.Meta["ticket"] != "SCM-42" {
		t.Errorf("Unexpected meta: %v", loaded.Meta)
	}
}

func TestCreateCommitValidatesReferences(t *testing.T) {
	p := newTestPersistence(t)
	root := seedCommit(t, p, "create table t (id int)", "init")

	if _, err := p.CreateCommit("missing", nil, testAuthor, "m", nil); err == nil {
		t.Error("Expected unknown tree to be rejected")
	}
	if _, err := p.CreateCommit(root.Tree, []core.Hash{"missing"}, testAuthor, "m", nil); err == nil {
		t.Error("Expected unknown parent to be rejected")
	}
	if _, err := p.CreateCommit(root.Tree, []core.Hash{root.Hash, root.Hash, root.Hash}, testAuthor, "m", nil); err == nil {
		t.Error("Expected more than two parents to be rejected")
	}
}
