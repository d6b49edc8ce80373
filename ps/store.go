package ps

import (
	"github.com/evoludigit/pggit/core"
)

// Store is the durable medium beneath Persistence. Object records are
// immutable and keyed by content hash; writing the same hash twice is a
// no-op. Refs are the only mutable records and every head mutation is an
// atomic compare-and-swap.
//
// Implementations must make AdvanceRef and PutAttempt transactional with the
// events they carry: either the state change and its events both persist or
// neither does.
type Store interface {
	// Objects. Get reports found=false for unknown hashes without error.
	PutBlob(hash core.Hash, content []byte) error
	GetBlob(hash core.Hash) ([]byte, bool, error)
	PutTree(hash core.Hash, encoded []byte) error
	GetTree(hash core.Hash) ([]byte, bool, error)
	PutCommit(hash core.Hash, encoded []byte) error
	GetCommit(hash core.Hash) ([]byte, bool, error)

	// Refs.
	CreateRef(branch core.Branch) error // core.ErrDuplicateBranch when taken
	GetRef(name string) (core.Branch, bool, error)
	ListRefs() ([]core.Branch, error)
	// AdvanceRef compare-and-swaps the head and appends events atomically.
	// Fails with core.ErrBranchNotFound or *core.ConcurrentModificationError.
	AdvanceRef(name string, expected, next core.Hash, events []core.Event) error
	DeleteRef(name string) error // core.ErrBranchNotFound when absent

	// Merge attempts, durable while pending.
	PutAttempt(attempt core.MergeAttempt, events []core.Event) error
	GetAttempt(id string) (core.MergeAttempt, bool, error)
	ListAttempts() ([]core.MergeAttempt, error)
	DeleteAttempt(id string) error

	// Outbox. The store assigns Seq, strictly increasing from 1.
	AppendEvents(events []core.Event) error
	// Events returns up to limit events with Seq > afterSeq, in Seq order.
	// limit <= 0 means no limit.
	Events(afterSeq uint64, limit int) ([]core.Event, error)

	// Sweep surface for garbage collection.
	ListBlobHashes() ([]core.Hash, error)
	ListTreeHashes() ([]core.Hash, error)
	ListCommitHashes() ([]core.Hash, error)
	DeleteObjects(blobs, trees, commits []core.Hash) error

	Close() error
}
