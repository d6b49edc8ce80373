package ps

import (
	"fmt"

	"github.com/evoludigit/pggit/core"
)

// SaveAttempt persists a merge attempt, appending any events in the same
// store transaction. Saving an existing ID overwrites it, which is how
// conflict resolutions are recorded.
func (p *Persistence) SaveAttempt(attempt core.MergeAttempt, events []core.Event) error {
	if attempt.ID == "" {
		return fmt.Errorf("merge attempt has no id")
	}
	if err := p.store.PutAttempt(attempt, events); err != nil {
		return fmt.Errorf("save merge attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// GetAttempt returns the pending merge attempt with the given ID.
func (p *Persistence) GetAttempt(id string) (core.MergeAttempt, error) {
	attempt, ok, err := p.store.GetAttempt(id)
	if err != nil {
		return core.MergeAttempt{}, fmt.Errorf("get merge attempt %s: %w", id, err)
	}
	if !ok {
		return core.MergeAttempt{}, fmt.Errorf("merge attempt %s: %w", id, core.ErrObjectNotFound)
	}
	return attempt, nil
}

// ListAttempts returns all pending merge attempts.
func (p *Persistence) ListAttempts() ([]core.MergeAttempt, error) {
	return p.store.ListAttempts()
}

// DeleteAttempt removes a completed or abandoned attempt. Deleting an
// unknown ID is not an error.
func (p *Persistence) DeleteAttempt(id string) error {
	if err := p.store.DeleteAttempt(id); err != nil {
		return fmt.Errorf("delete merge attempt %s: %w", id, err)
	}
	return nil
}
