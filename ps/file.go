package ps

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/util"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/evoludigit/pggit/core"
)

// fileStore lays the repository out on a billy filesystem:
//
//	objects/{blobs,trees,commits}/<hh>/<rest-of-hash>
//	refs/<branch-name>.json
//	attempts/<attempt-id>.json
//	events.log
//
// Objects are written to a temp name and renamed into place, so a partial
// write never becomes visible under its hash. A process-wide mutex
// serializes all mutation; hot objects are served from an LRU cache without
// touching the filesystem. The store assumes exclusive access by one
// process, the same assumption a working tree makes.
//
// The ref rename and the event append happen under one lock but are two
// filesystem operations; a crash between them can lose events. Deployments
// that need strictly transactional outbox delivery use the sqlite store.
type fileStore struct {
	fs    billy.Filesystem
	mu    sync.Mutex
	cache *lru.Cache[core.Hash, []byte]

	nextSeq uint64
}

const objectCacheSize = 4096

func newFileStore(fs billy.Filesystem) (*fileStore, error) {
	cache, err := lru.New[core.Hash, []byte](objectCacheSize)
	if err != nil {
		return nil, err
	}
	s := &fileStore{fs: fs, cache: cache, nextSeq: 1}
	for _, dir := range []string{"objects/blobs", "objects/trees", "objects/commits", "refs", "attempts"} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("init %s: %w", dir, err)
		}
	}
	if err := s.loadSeq(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSeq() error {
	f, err := s.fs.Open("events.log")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open events.log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e core.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("corrupt events.log: %w", err)
		}
		if e.Seq >= s.nextSeq {
			s.nextSeq = e.Seq + 1
		}
	}
	return scanner.Err()
}

func objectPath(kind string, hash core.Hash) string {
	h := hash.String()
	if len(h) < 3 {
		return path.Join("objects", kind, h)
	}
	return path.Join("objects", kind, h[:2], h[2:])
}

// writeAtomic writes data to a sibling temp file and renames it over name.
func (s *fileStore) writeAtomic(name string, data []byte) error {
	if err := s.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return err
	}
	tmp := name + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, name)
}

func (s *fileStore) putObject(kind string, hash core.Hash, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The cache is not proof of presence: an unlocked read can repopulate
	// it just after a sweep removed the file. Only a stat makes the write
	// a no-op.
	name := objectPath(kind, hash)
	if _, err := s.fs.Stat(name); err == nil {
		s.cache.Add(hash, data)
		return nil
	}
	if err := s.writeAtomic(name, data); err != nil {
		return err
	}
	s.cache.Add(hash, data)
	return nil
}

func (s *fileStore) getObject(kind string, hash core.Hash) ([]byte, bool, error) {
	if data, ok := s.cache.Get(hash); ok {
		return data, true, nil
	}
	data, err := util.ReadFile(s.fs, objectPath(kind, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	s.cache.Add(hash, data)
	return data, true, nil
}

func (s *fileStore) PutBlob(hash core.Hash, content []byte) error {
	return s.putObject("blobs", hash, content)
}

func (s *fileStore) GetBlob(hash core.Hash) ([]byte, bool, error) {
	return s.getObject("blobs", hash)
}

func (s *fileStore) PutTree(hash core.Hash, encoded []byte) error {
	return s.putObject("trees", hash, encoded)
}

func (s *fileStore) GetTree(hash core.Hash) ([]byte, bool, error) {
	return s.getObject("trees", hash)
}

func (s *fileStore) PutCommit(hash core.Hash, encoded []byte) error {
	return s.putObject("commits", hash, encoded)
}

func (s *fileStore) GetCommit(hash core.Hash) ([]byte, bool, error) {
	return s.getObject("commits", hash)
}

func refPath(name string) string {
	return path.Join("refs", name+".json")
}

func (s *fileStore) readRef(name string) (core.Branch, bool, error) {
	data, err := util.ReadFile(s.fs, refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return core.Branch{}, false, nil
		}
		return core.Branch{}, false, err
	}
	var branch core.Branch
	if err := json.Unmarshal(data, &branch); err != nil {
		return core.Branch{}, false, fmt.Errorf("corrupt ref %q: %w", name, err)
	}
	return branch, true, nil
}

func (s *fileStore) writeRef(branch core.Branch) error {
	data, err := json.Marshal(branch)
	if err != nil {
		return err
	}
	return s.writeAtomic(refPath(branch.Name), data)
}

func (s *fileStore) CreateRef(branch core.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.readRef(branch.Name); err != nil {
		return err
	} else if ok {
		return core.ErrDuplicateBranch
	}
	return s.writeRef(branch)
}

func (s *fileStore) GetRef(name string) (core.Branch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRef(name)
}

func (s *fileStore) ListRefs() ([]core.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var branches []core.Branch
	var walk func(dir string) error
	walk = func(dir string) error {
		infos, err := s.fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, info := range infos {
			full := path.Join(dir, info.Name())
			if info.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if !strings.HasSuffix(info.Name(), ".json") {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(full, "refs/"), ".json")
			branch, ok, err := s.readRef(name)
			if err != nil {
				return err
			}
			if ok {
				branches = append(branches, branch)
			}
		}
		return nil
	}
	if err := walk("refs"); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *fileStore) AdvanceRef(name string, expected, next core.Hash, events []core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok, err := s.readRef(name)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrBranchNotFound
	}
	if branch.Head != expected {
		return &core.ConcurrentModificationError{Branch: name, Expected: expected, Actual: branch.Head}
	}
	branch.Head = next
	if err := s.writeRef(branch); err != nil {
		return err
	}
	return s.appendLocked(events)
}

func (s *fileStore) DeleteRef(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.readRef(name); err != nil {
		return err
	} else if !ok {
		return core.ErrBranchNotFound
	}
	return s.fs.Remove(refPath(name))
}

func attemptPath(id string) string {
	return path.Join("attempts", id+".json")
}

func (s *fileStore) PutAttempt(attempt core.MergeAttempt, events []core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(attemptPath(attempt.ID), data); err != nil {
		return err
	}
	return s.appendLocked(events)
}

func (s *fileStore) GetAttempt(id string) (core.MergeAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := util.ReadFile(s.fs, attemptPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return core.MergeAttempt{}, false, nil
		}
		return core.MergeAttempt{}, false, err
	}
	var attempt core.MergeAttempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return core.MergeAttempt{}, false, fmt.Errorf("corrupt attempt %q: %w", id, err)
	}
	return attempt, true, nil
}

func (s *fileStore) ListAttempts() ([]core.MergeAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos, err := s.fs.ReadDir("attempts")
	if err != nil {
		return nil, err
	}
	var attempts []core.MergeAttempt
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			continue
		}
		data, err := util.ReadFile(s.fs, path.Join("attempts", info.Name()))
		if err != nil {
			return nil, err
		}
		var attempt core.MergeAttempt
		if err := json.Unmarshal(data, &attempt); err != nil {
			return nil, fmt.Errorf("corrupt attempt %q: %w", info.Name(), err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}

func (s *fileStore) DeleteAttempt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.fs.Remove(attemptPath(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *fileStore) appendLocked(events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	f, err := s.fs.OpenFile("events.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, e := range events {
		e.Seq = s.nextSeq
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
		s.nextSeq++
	}
	return nil
}

func (s *fileStore) AppendEvents(events []core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(events)
}

func (s *fileStore) Events(afterSeq uint64, limit int) ([]core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.Open("events.log")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []core.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e core.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt events.log: %w", err)
		}
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, scanner.Err()
}

func (s *fileStore) listHashes(kind string) ([]core.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := path.Join("objects", kind)
	shards, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var hashes []core.Hash
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		files, err := s.fs.ReadDir(path.Join(dir, shard.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || strings.HasSuffix(f.Name(), ".tmp") {
				continue
			}
			hashes = append(hashes, core.Hash(shard.Name()+f.Name()))
		}
	}
	return hashes, nil
}

func (s *fileStore) ListBlobHashes() ([]core.Hash, error)   { return s.listHashes("blobs") }
func (s *fileStore) ListTreeHashes() ([]core.Hash, error)   { return s.listHashes("trees") }
func (s *fileStore) ListCommitHashes() ([]core.Hash, error) { return s.listHashes("commits") }

func (s *fileStore) DeleteObjects(blobs, trees, commits []core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remove := func(kind string, hashes []core.Hash) error {
		for _, h := range hashes {
			s.cache.Remove(h)
			if err := s.fs.Remove(objectPath(kind, h)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	}
	if err := remove("blobs", blobs); err != nil {
		return err
	}
	if err := remove("trees", trees); err != nil {
		return err
	}
	return remove("commits", commits)
}

func (s *fileStore) Close() error {
	s.cache.Purge()
	return nil
}
