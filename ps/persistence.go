package ps

import (
	"fmt"
	"sync"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
)

// Persistence layers the engine's plumbing over a Store: object hashing and
// encoding, branch operations, history traversal, diffing and garbage
// collection.
//
// Concurrency model: objects are immutable, so object reads and writes are
// lock-free beyond what the store needs internally. Head mutation is
// serialized per branch by lockBranch plus the store's compare-and-swap.
// Multi-object write sequences (write objects, then advance a head) hold the
// collection read-lock so GC never sweeps objects that are about to become
// reachable.
type Persistence struct {
	store Store

	branchLocks sync.Map // branch name -> *sync.Mutex
	gcMu        sync.RWMutex
}

// NewMemoryPersistence opens a store that lives entirely in process memory.
func NewMemoryPersistence() (*Persistence, error) {
	return &Persistence{store: newMemoryStore()}, nil
}

// NewFilePersistence opens (creating if needed) a file-backed store rooted
// at baseDir.
func NewFilePersistence(baseDir string) (*Persistence, error) {
	store, err := newFileStore(osfs.New(baseDir))
	if err != nil {
		return nil, fmt.Errorf("open file store at %q: %w", baseDir, err)
	}
	return &Persistence{store: store}, nil
}

// NewFilePersistenceFS is NewFilePersistence over a caller-supplied
// filesystem, typically memfs in tests.
func NewFilePersistenceFS(fs billy.Filesystem) (*Persistence, error) {
	store, err := newFileStore(fs)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}
	return &Persistence{store: store}, nil
}

// NewSQLitePersistence opens (creating if needed) a sqlite-backed store at
// the given database path. ":memory:" gives a throwaway database.
func NewSQLitePersistence(path string) (*Persistence, error) {
	store, err := newSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store at %q: %w", path, err)
	}
	return &Persistence{store: store}, nil
}

// Close releases the underlying store.
func (p *Persistence) Close() error {
	return p.store.Close()
}

// lockBranch serializes head mutation for one branch. The returned func
// releases the lock.
func (p *Persistence) lockBranch(name string) func() {
	mu, _ := p.branchLocks.LoadOrStore(name, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// BeginWrite takes the collection read-lock for a multi-object write
// sequence that ends in a head advance. Callers must invoke the returned
// func when the sequence is complete (or abandoned). Collection holds the
// write side for its whole run, so a sequence inside BeginWrite can never
// lose freshly written objects to a concurrent sweep.
func (p *Persistence) BeginWrite() func() {
	p.gcMu.RLock()
	return p.gcMu.RUnlock
}
