package ps

import (
	"context"
	"fmt"
	"iter"

	"github.com/evoludigit/pggit/core"
)

// WalkHistory yields the ancestry of from, newest first, lazily and without
// recursion. Commits reachable through both parents of a merge are yielded
// once. The walk loads one commit at a time, so deep histories cost memory
// proportional to the frontier, not the history.
func (p *Persistence) WalkHistory(ctx context.Context, from core.Hash) iter.Seq2[core.Commit, error] {
	return func(yield func(core.Commit, error) bool) {
		visited := make(map[core.Hash]bool)
		frontier := []core.Commit{}

		load := func(hash core.Hash) bool {
			if hash.IsZero() || visited[hash] {
				return true
			}
			visited[hash] = true
			commit, err := p.GetCommit(hash)
			if err != nil {
				return yield(core.Commit{}, err)
			}
			frontier = append(frontier, commit)
			return true
		}

		if !load(from) {
			return
		}
		for len(frontier) > 0 {
			if err := ctx.Err(); err != nil {
				yield(core.Commit{}, err)
				return
			}

			// Pop the newest frontier commit; ties break on hash so the
			// order is deterministic across runs.
			best := 0
			for i, c := range frontier[1:] {
				other := frontier[best]
				if c.When.After(other.When) || (c.When.Equal(other.When) && c.Hash > other.Hash) {
					best = i + 1
				}
			}
			commit := frontier[best]
			frontier = append(frontier[:best], frontier[best+1:]...)

			if !yield(commit, nil) {
				return
			}
			for _, parent := range commit.Parents {
				if !load(parent) {
					return
				}
			}
		}
	}
}

// HistoryPage returns up to limit commits of the ancestry of from, starting
// after the given commit hash (zero means from the head). Restarting with
// the last hash of the previous page resumes the walk.
func (p *Persistence) HistoryPage(ctx context.Context, from, after core.Hash, limit int) ([]core.Commit, error) {
	var page []core.Commit
	skipping := !after.IsZero()
	for commit, err := range p.WalkHistory(ctx, from) {
		if err != nil {
			return nil, err
		}
		if skipping {
			if commit.Hash == after {
				skipping = false
			}
			continue
		}
		page = append(page, commit)
		if limit > 0 && len(page) == limit {
			break
		}
	}
	if skipping {
		return nil, fmt.Errorf("pagination cursor %s: %w", after.Short(), core.ErrCommitNotFound)
	}
	return page, nil
}

// ancestorDistances walks the full ancestry of from, breadth-first,
// recording the shortest parent-edge distance to each reachable commit.
func (p *Persistence) ancestorDistances(ctx context.Context, from core.Hash) (map[core.Hash]int, error) {
	dist := map[core.Hash]int{from: 0}
	queue := []core.Hash{from}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hash := queue[0]
		queue = queue[1:]
		commit, err := p.GetCommit(hash)
		if err != nil {
			return nil, err
		}
		for _, parent := range commit.Parents {
			if _, seen := dist[parent]; seen {
				continue
			}
			dist[parent] = dist[hash] + 1
			queue = append(queue, parent)
		}
	}
	return dist, nil
}

// FindMergeBase returns the best common ancestor of a and b: the one
// minimizing the summed distance to both commits, ties broken by smallest
// hash so concurrent callers agree. A commit that is an ancestor of the
// other is its own merge base. Returns core.ErrNoCommonAncestor for
// unrelated histories.
func (p *Persistence) FindMergeBase(ctx context.Context, a, b core.Hash) (core.Hash, error) {
	distA, err := p.ancestorDistances(ctx, a)
	if err != nil {
		return core.ZeroHash, err
	}
	distB, err := p.ancestorDistances(ctx, b)
	if err != nil {
		return core.ZeroHash, err
	}

	base := core.ZeroHash
	bestTotal := -1
	for hash, da := range distA {
		db, ok := distB[hash]
		if !ok {
			continue
		}
		total := da + db
		if bestTotal == -1 || total < bestTotal || (total == bestTotal && hash < base) {
			base = hash
			bestTotal = total
		}
	}
	if base.IsZero() {
		return core.ZeroHash, fmt.Errorf("commits %s and %s: %w", a.Short(), b.Short(), core.ErrNoCommonAncestor)
	}
	return base, nil
}

// IsAncestor reports whether anc is reachable from desc through parent
// edges. A commit is its own ancestor.
func (p *Persistence) IsAncestor(ctx context.Context, anc, desc core.Hash) (bool, error) {
	if anc == desc {
		return true, nil
	}
	dist, err := p.ancestorDistances(ctx, desc)
	if err != nil {
		return false, err
	}
	_, ok := dist[anc]
	return ok, nil
}
