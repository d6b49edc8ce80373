package ps

import (
	"context"
	"fmt"

	"github.com/evoludigit/pggit/core"
)

// GCStats summarizes one collection run.
type GCStats struct {
	LiveCommits  int `json:"live_commits"`
	LiveTrees    int `json:"live_trees"`
	LiveBlobs    int `json:"live_blobs"`
	SweptCommits int `json:"swept_commits"`
	SweptTrees   int `json:"swept_trees"`
	SweptBlobs   int `json:"swept_blobs"`
}

// Collect removes every object unreachable from any branch head, pending
// merge attempt, or extra pin. Commits abandoned by branch deletion are
// swept along with their trees and blobs. Pending attempts pin their base,
// source and target commits and every conflict blob, so resolution never
// races the collector.
//
// Collect excludes writers for its whole run (see BeginWrite); reads are
// unaffected. The roots snapshot is taken after the write lock is held, so
// nothing reachable from a branch existing at collection start is ever
// removed.
func (p *Persistence) Collect(ctx context.Context, pins ...core.Hash) (GCStats, error) {
	p.gcMu.Lock()
	defer p.gcMu.Unlock()

	roots, pinnedBlobs, err := p.collectRoots(pins)
	if err != nil {
		return GCStats{}, err
	}

	liveCommits := make(map[core.Hash]bool)
	liveTrees := make(map[core.Hash]bool)
	liveBlobs := make(map[core.Hash]bool)
	for h := range pinnedBlobs {
		liveBlobs[h] = true
	}

	queue := roots
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return GCStats{}, err
		}
		hash := queue[0]
		queue = queue[1:]
		if hash.IsZero() || liveCommits[hash] {
			continue
		}
		liveCommits[hash] = true

		commit, err := p.GetCommit(hash)
		if err != nil {
			return GCStats{}, fmt.Errorf("gc: reachable commit %s: %w", hash.Short(), err)
		}
		queue = append(queue, commit.Parents...)

		if liveTrees[commit.Tree] {
			continue
		}
		liveTrees[commit.Tree] = true
		tree, err := p.GetTree(commit.Tree)
		if err != nil {
			return GCStats{}, fmt.Errorf("gc: reachable tree %s: %w", commit.Tree.Short(), err)
		}
		for _, entry := range tree.Entries {
			liveBlobs[entry.Blob] = true
		}
	}

	sweep := func(list func() ([]core.Hash, error), live map[core.Hash]bool) ([]core.Hash, error) {
		all, err := list()
		if err != nil {
			return nil, err
		}
		var garbage []core.Hash
		for _, h := range all {
			if !live[h] {
				garbage = append(garbage, h)
			}
		}
		return garbage, nil
	}
	deadBlobs, err := sweep(p.store.ListBlobHashes, liveBlobs)
	if err != nil {
		return GCStats{}, fmt.Errorf("gc: list blobs: %w", err)
	}
	deadTrees, err := sweep(p.store.ListTreeHashes, liveTrees)
	if err != nil {
		return GCStats{}, fmt.Errorf("gc: list trees: %w", err)
	}
	deadCommits, err := sweep(p.store.ListCommitHashes, liveCommits)
	if err != nil {
		return GCStats{}, fmt.Errorf("gc: list commits: %w", err)
	}

	// Final referential check before anything is deleted. Failing here means
	// the mark phase is wrong; abort rather than corrupt the store.
	for _, h := range deadCommits {
		if liveCommits[h] {
			return GCStats{}, fmt.Errorf("gc: commit %s: %w", h.Short(), core.ErrGCReferential)
		}
	}
	for _, h := range deadTrees {
		if liveTrees[h] {
			return GCStats{}, fmt.Errorf("gc: tree %s: %w", h.Short(), core.ErrGCReferential)
		}
	}
	for _, h := range deadBlobs {
		if liveBlobs[h] {
			return GCStats{}, fmt.Errorf("gc: blob %s: %w", h.Short(), core.ErrGCReferential)
		}
	}

	if err := p.store.DeleteObjects(deadBlobs, deadTrees, deadCommits); err != nil {
		return GCStats{}, fmt.Errorf("gc: sweep: %w", err)
	}
	return GCStats{
		LiveCommits:  len(liveCommits),
		LiveTrees:    len(liveTrees),
		LiveBlobs:    len(liveBlobs),
		SweptCommits: len(deadCommits),
		SweptTrees:   len(deadTrees),
		SweptBlobs:   len(deadBlobs),
	}, nil
}

// collectRoots snapshots the root set: branch heads, caller pins, and the
// commits and conflict blobs pinned by pending merge attempts.
func (p *Persistence) collectRoots(pins []core.Hash) ([]core.Hash, map[core.Hash]bool, error) {
	branches, err := p.store.ListRefs()
	if err != nil {
		return nil, nil, fmt.Errorf("gc: list refs: %w", err)
	}
	attempts, err := p.store.ListAttempts()
	if err != nil {
		return nil, nil, fmt.Errorf("gc: list attempts: %w", err)
	}

	var roots []core.Hash
	for _, b := range branches {
		roots = append(roots, b.Head)
	}
	roots = append(roots, pins...)

	pinnedBlobs := make(map[core.Hash]bool)
	for _, a := range attempts {
		roots = append(roots, a.SourceCommit, a.TargetCommit, a.MergeBase)
		for _, c := range a.Conflicts {
			for _, blob := range []core.Hash{c.Base, c.Source, c.Target, c.Resolved} {
				if !blob.IsZero() {
					pinnedBlobs[blob] = true
				}
			}
		}
	}
	return roots, pinnedBlobs, nil
}
