package ps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evoludigit/pggit/core"
)

func validBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name is empty")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '/':
		default:
			return fmt.Errorf("branch name %q contains %q", name, r)
		}
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("branch name %q is malformed", name)
	}
	return nil
}

// CreateBranch creates a new branch pointing at an existing commit. Creation
// is not an event-bearing head mutation; the commit it points at already
// carried its own event.
func (p *Persistence) CreateBranch(name string, head core.Hash, by core.Identity) (core.Branch, error) {
	if err := validBranchName(name); err != nil {
		return core.Branch{}, err
	}
	// The head check and the ref landing must both sit on the same side of
	// any collection run: a sweep between them could remove the commit and
	// leave the new branch dangling.
	done := p.BeginWrite()
	defer done()
	if !head.IsZero() {
		if _, err := p.GetCommit(head); err != nil {
			return core.Branch{}, fmt.Errorf("branch %q head: %w", name, err)
		}
	}

	branch := core.Branch{
		Name:      name,
		Head:      head,
		CreatedAt: nowFunc().UTC(),
		CreatedBy: by.String(),
	}
	if err := p.store.CreateRef(branch); err != nil {
		return core.Branch{}, fmt.Errorf("create branch %q: %w", name, err)
	}
	return branch, nil
}

// RestoreBranch recreates a branch record verbatim, keeping its original
// creation metadata. Used when replaying an archive.
func (p *Persistence) RestoreBranch(branch core.Branch) error {
	if err := validBranchName(branch.Name); err != nil {
		return err
	}
	done := p.BeginWrite()
	defer done()
	if !branch.Head.IsZero() {
		if _, err := p.GetCommit(branch.Head); err != nil {
			return fmt.Errorf("branch %q head: %w", branch.Name, err)
		}
	}
	if err := p.store.CreateRef(branch); err != nil {
		return fmt.Errorf("restore branch %q: %w", branch.Name, err)
	}
	return nil
}

// GetBranch returns the branch record for name.
func (p *Persistence) GetBranch(name string) (core.Branch, error) {
	branch, ok, err := p.store.GetRef(name)
	if err != nil {
		return core.Branch{}, fmt.Errorf("get branch %q: %w", name, err)
	}
	if !ok {
		return core.Branch{}, fmt.Errorf("branch %q: %w", name, core.ErrBranchNotFound)
	}
	return branch, nil
}

// ListBranches returns all branches, sorted by name.
func (p *Persistence) ListBranches() ([]core.Branch, error) {
	branches, err := p.store.ListRefs()
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// AdvanceBranch compare-and-swaps the branch head from expected to next and
// appends the supplied events in the same store transaction. The commit at
// next must already be stored. On a lost race the head is untouched and the
// error unwraps to core.ErrConcurrentModification.
func (p *Persistence) AdvanceBranch(name string, expected, next core.Hash, events []core.Event) error {
	if _, err := p.GetCommit(next); err != nil {
		return fmt.Errorf("advance %q: %w", name, err)
	}

	unlock := p.lockBranch(name)
	defer unlock()
	if err := p.store.AdvanceRef(name, expected, next, events); err != nil {
		if _, ok := err.(*core.ConcurrentModificationError); ok {
			return err
		}
		return fmt.Errorf("advance %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes the ref. Commits the branch pointed at stay stored
// until garbage collection decides they are unreachable.
func (p *Persistence) DeleteBranch(name string) error {
	unlock := p.lockBranch(name)
	defer unlock()
	if err := p.store.DeleteRef(name); err != nil {
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}
