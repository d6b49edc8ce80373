package ps

import (
	"github.com/evoludigit/pggit/core"
)

// DiffTrees compares two snapshots and returns one Change per object path
// that differs. Identical trees short-circuit on hash without loading
// anything; unchanged entries within differing trees are skipped the same
// way, so the cost scales with the delta, not the schema size. A zero tree
// hash stands for the empty snapshot.
func (p *Persistence) DiffTrees(a, b core.Hash) ([]core.Change, error) {
	if a == b {
		return nil, nil
	}

	load := func(hash core.Hash) ([]core.TreeEntry, error) {
		if hash.IsZero() {
			return nil, nil
		}
		tree, err := p.GetTree(hash)
		if err != nil {
			return nil, err
		}
		return tree.Entries, nil
	}
	left, err := load(a)
	if err != nil {
		return nil, err
	}
	right, err := load(b)
	if err != nil {
		return nil, err
	}

	// Both sides are sorted by path; merge-join them.
	var changes []core.Change
	i, j := 0, 0
	for i < len(left) || j < len(right) {
		switch {
		case j >= len(right) || (i < len(left) && left[i].Path < right[j].Path):
			e := left[i]
			changes = append(changes, core.Change{
				Path: e.Path, Kind: e.Kind, Diff: core.DiffDrop, OldBlob: e.Blob,
			})
			i++
		case i >= len(left) || right[j].Path < left[i].Path:
			e := right[j]
			changes = append(changes, core.Change{
				Path: e.Path, Kind: e.Kind, Diff: core.DiffCreate, NewBlob: e.Blob,
			})
			j++
		default:
			old, now := left[i], right[j]
			if old.Blob != now.Blob {
				changes = append(changes, core.Change{
					Path: now.Path, Kind: now.Kind, Diff: core.DiffModify,
					OldBlob: old.Blob, NewBlob: now.Blob,
				})
			}
			i++
			j++
		}
	}
	return changes, nil
}

// DiffCommits diffs the snapshots of two commits.
func (p *Persistence) DiffCommits(a, b core.Hash) ([]core.Change, error) {
	treeOf := func(hash core.Hash) (core.Hash, error) {
		if hash.IsZero() {
			return core.ZeroHash, nil
		}
		commit, err := p.GetCommit(hash)
		if err != nil {
			return core.ZeroHash, err
		}
		return commit.Tree, nil
	}
	treeA, err := treeOf(a)
	if err != nil {
		return nil, err
	}
	treeB, err := treeOf(b)
	if err != nil {
		return nil, err
	}
	return p.DiffTrees(treeA, treeB)
}
