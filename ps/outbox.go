package ps

import (
	"fmt"

	"github.com/evoludigit/pggit/core"
)

// Events returns up to limit outbox events with Seq greater than afterSeq,
// oldest first. Poll with the last Seq seen to consume the outbox; the
// engine never deletes events.
func (p *Persistence) Events(afterSeq uint64, limit int) ([]core.Event, error) {
	events, err := p.store.Events(afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read outbox after %d: %w", afterSeq, err)
	}
	return events, nil
}

// AppendEvents appends events to the outbox outside of any head mutation.
// Head-moving writes should carry their events through AdvanceBranch instead
// so they share the store transaction.
func (p *Persistence) AppendEvents(events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := p.store.AppendEvents(events); err != nil {
		return fmt.Errorf("append %d events: %w", len(events), err)
	}
	return nil
}

// NewEvent builds an outbox event stamped with the current time. Seq is
// assigned by the store on append.
func (p *Persistence) NewEvent(kind core.EventKind, branch string, commit core.Hash, author core.Identity) core.Event {
	return core.Event{
		Kind:   kind,
		Branch: branch,
		Commit: commit,
		Author: author.String(),
		When:   nowFunc().UTC(),
	}
}
