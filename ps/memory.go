package ps

import (
	"sort"
	"sync"

	"github.com/evoludigit/pggit/core"
)

// memoryStore keeps everything in process memory. The backing of choice for
// tests and for embedding the engine as a scratch workspace.
type memoryStore struct {
	mu       sync.RWMutex
	blobs    map[core.Hash][]byte
	trees    map[core.Hash][]byte
	commits  map[core.Hash][]byte
	refs     map[string]core.Branch
	attempts map[string]core.MergeAttempt
	events   []core.Event
	nextSeq  uint64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		blobs:    make(map[core.Hash][]byte),
		trees:    make(map[core.Hash][]byte),
		commits:  make(map[core.Hash][]byte),
		refs:     make(map[string]core.Branch),
		attempts: make(map[string]core.MergeAttempt),
		nextSeq:  1,
	}
}

func (s *memoryStore) putObject(m map[core.Hash][]byte, hash core.Hash, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := m[hash]; ok {
		return nil // objects are immutable, rewrite is a no-op
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m[hash] = stored
	return nil
}

func (s *memoryStore) getObject(m map[core.Hash][]byte, hash core.Hash) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := m[hash]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (s *memoryStore) PutBlob(hash core.Hash, content []byte) error {
	return s.putObject(s.blobs, hash, content)
}

func (s *memoryStore) GetBlob(hash core.Hash) ([]byte, bool, error) {
	return s.getObject(s.blobs, hash)
}

func (s *memoryStore) PutTree(hash core.Hash, encoded []byte) error {
	return s.putObject(s.trees, hash, encoded)
}

func (s *memoryStore) GetTree(hash core.Hash) ([]byte, bool, error) {
	return s.getObject(s.trees, hash)
}

func (s *memoryStore) PutCommit(hash core.Hash, encoded []byte) error {
	return s.putObject(s.commits, hash, encoded)
}

func (s *memoryStore) GetCommit(hash core.Hash) ([]byte, bool, error) {
	return s.getObject(s.commits, hash)
}

func (s *memoryStore) CreateRef(branch core.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[branch.Name]; ok {
		return core.ErrDuplicateBranch
	}
	s.refs[branch.Name] = branch
	return nil
}

func (s *memoryStore) GetRef(name string) (core.Branch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branch, ok := s.refs[name]
	return branch, ok, nil
}

func (s *memoryStore) ListRefs() ([]core.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branches := make([]core.Branch, 0, len(s.refs))
	for _, b := range s.refs {
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

func (s *memoryStore) AdvanceRef(name string, expected, next core.Hash, events []core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch, ok := s.refs[name]
	if !ok {
		return core.ErrBranchNotFound
	}
	if branch.Head != expected {
		return &core.ConcurrentModificationError{Branch: name, Expected: expected, Actual: branch.Head}
	}
	branch.Head = next
	s.refs[name] = branch
	s.appendLocked(events)
	return nil
}

func (s *memoryStore) DeleteRef(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[name]; !ok {
		return core.ErrBranchNotFound
	}
	delete(s.refs, name)
	return nil
}

func (s *memoryStore) PutAttempt(attempt core.MergeAttempt, events []core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = attempt
	s.appendLocked(events)
	return nil
}

func (s *memoryStore) GetAttempt(id string) (core.MergeAttempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[id]
	return attempt, ok, nil
}

func (s *memoryStore) ListAttempts() ([]core.MergeAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := make([]core.MergeAttempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		attempts = append(attempts, a)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })
	return attempts, nil
}

func (s *memoryStore) DeleteAttempt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
	return nil
}

func (s *memoryStore) appendLocked(events []core.Event) {
	for _, e := range events {
		e.Seq = s.nextSeq
		s.nextSeq++
		s.events = append(s.events, e)
	}
}

func (s *memoryStore) AppendEvents(events []core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(events)
	return nil
}

func (s *memoryStore) Events(afterSeq uint64, limit int) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Event
	for _, e := range s.events {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) listHashes(m map[core.Hash][]byte) ([]core.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make([]core.Hash, 0, len(m))
	for h := range m {
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *memoryStore) ListBlobHashes() ([]core.Hash, error)   { return s.listHashes(s.blobs) }
func (s *memoryStore) ListTreeHashes() ([]core.Hash, error)   { return s.listHashes(s.trees) }
func (s *memoryStore) ListCommitHashes() ([]core.Hash, error) { return s.listHashes(s.commits) }

func (s *memoryStore) DeleteObjects(blobs, trees, commits []core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range blobs {
		delete(s.blobs, h)
	}
	for _, h := range trees {
		delete(s.trees, h)
	}
	for _, h := range commits {
		delete(s.commits, h)
	}
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
