// Package watch turns edits of on-disk .sql definition files into commits.
// Each tracked file is named <object path>.sql (for example
// public.users.sql) and holds one object's definition; writing, creating or
// removing a file becomes a CREATE, ALTER or DROP change on the watched
// branch. Changes landing close together are debounced into one commit.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/vc"
)

// CommitReport is the outcome of one flushed batch.
type CommitReport struct {
	Commit core.Commit
	Paths  []string
	Err    error
}

// Watcher monitors a directory of .sql definition files and commits their
// changes to one branch.
type Watcher struct {
	Dir      string
	Branch   string
	Debounce time.Duration       // defaults to 250ms
	Commits  <-chan CommitReport // read-only external channel

	engine  *vc.Engine
	commits chan CommitReport
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// New creates a watcher committing changes under dir to branch.
func New(engine *vc.Engine, dir, branch string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ch := make(chan CommitReport, 16)
	return &Watcher{
		Dir:      dir,
		Branch:   branch,
		Debounce: 250 * time.Millisecond,
		Commits:  ch,
		engine:   engine,
		commits:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
	}, nil
}

// Start begins watching. Stop must be called to release the watch.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.Dir); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher, flushes pending changes and closes Commits.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
	close(w.commits)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: collect touched files, flush the batch once the directory
	// has been quiet for a full interval.
	pending := make(map[string]struct{})
	var last time.Time
	ticker := time.NewTicker(w.Debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.flush(pending)
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = struct{}{}
				last = time.Now()
			}

		case now, ok := <-ticker.C:
			if !ok {
				return
			}
			if len(pending) > 0 && now.Sub(last) >= w.Debounce {
				w.flush(pending)
				pending = make(map[string]struct{})
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next event still arrives.
		}
	}
}

func (w *Watcher) flush(files map[string]struct{}) {
	if len(files) == 0 {
		return
	}
	names := make([]string, 0, len(files))
	for file := range files {
		names = append(names, file)
	}

	commit, paths, err := w.commitFiles(context.Background(), names)
	w.commits <- CommitReport{Commit: commit, Paths: paths, Err: err}
}

// commitFiles turns a set of touched files into one change batch and
// commits it. Files that no longer exist become drops; drops of objects the
// branch never tracked are skipped rather than failed, since editors create
// and delete scratch files freely.
func (w *Watcher) commitFiles(ctx context.Context, files []string) (core.Commit, []string, error) {
	snapshot, err := w.engine.Snapshot(w.Branch)
	if err != nil {
		return core.Commit{}, nil, err
	}

	var changes []core.NormalizedChange
	var paths []string
	for _, file := range files {
		path := objectPath(file)
		_, tracked := snapshot.Lookup(path)

		content, err := os.ReadFile(file)
		switch {
		case os.IsNotExist(err):
			if !tracked {
				continue
			}
			changes = append(changes, core.NormalizedChange{
				Change: core.ChangeDrop,
				Path:   path,
			})
		case err != nil:
			return core.Commit{}, nil, fmt.Errorf("read %s: %w", file, err)
		default:
			kind := core.ChangeCreate
			if tracked {
				kind = core.ChangeAlter
			}
			changes = append(changes, core.NormalizedChange{
				Change:        kind,
				Path:          path,
				NewDefinition: string(content),
			})
		}
		paths = append(paths, path)
	}
	if len(changes) == 0 {
		return core.Commit{}, nil, nil
	}

	message := fmt.Sprintf("capture %d change(s) from %s", len(changes), filepath.Base(w.Dir))
	commit, err := w.engine.Commit(ctx, w.Branch, changes, message)
	if err != nil {
		return core.Commit{}, paths, err
	}
	return commit, paths, nil
}

// Sync commits the full difference between the directory and the branch
// snapshot in one batch: on-disk files missing from the snapshot are
// creates, files differing are alters, tracked objects without a file are
// drops. Useful at startup before watching begins.
func (w *Watcher) Sync(ctx context.Context) (core.Commit, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return core.Commit{}, err
	}

	files := make([]string, 0, len(entries))
	onDisk := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		full := filepath.Join(w.Dir, entry.Name())
		files = append(files, full)
		onDisk[objectPath(full)] = struct{}{}
	}

	snapshot, err := w.engine.Snapshot(w.Branch)
	if err != nil {
		return core.Commit{}, err
	}
	for _, entry := range snapshot.Entries {
		if _, ok := onDisk[entry.Path]; !ok {
			// Tracked object with no file left on disk.
			files = append(files, filepath.Join(w.Dir, entry.Path+".sql"))
		}
	}

	commit, _, err := w.commitFiles(ctx, files)
	return commit, err
}

func isDefinitionFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".sql") && !strings.HasPrefix(base, ".")
}

// objectPath derives the tracked object path from a file name:
// /dir/public.users.sql -> public.users.
func objectPath(file string) string {
	return strings.TrimSuffix(filepath.Base(file), ".sql")
}
