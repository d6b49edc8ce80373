package core

import "time"

// Hash is a hex-encoded sha256 content address. The empty string is the
// zero hash and never refers to a stored object.
type Hash string

// ZeroHash is the absent-object sentinel.
const ZeroHash Hash = ""

// IsZero returns true if the hash does not refer to an object.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Short returns an abbreviated form for display.
func (h Hash) Short() string {
	if len(h) < 12 {
		return string(h)
	}
	return string(h[:12])
}

func (h Hash) String() string {
	return string(h)
}

// Identity identifies the author of commits.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String renders the identity in "Name <email>" form, the form persisted
// in commit records.
func (i Identity) String() string {
	return i.Name + " <" + i.Email + ">"
}

// ObjectKind classifies a tracked schema object.
type ObjectKind string

const (
	KindTable    ObjectKind = "table"
	KindView     ObjectKind = "view"
	KindIndex    ObjectKind = "index"
	KindFunction ObjectKind = "function"
	KindSequence ObjectKind = "sequence"
	KindTrigger  ObjectKind = "trigger"
	KindType     ObjectKind = "type"
)

// TreeEntry is one object's state within a snapshot: its path (for example
// "public.users"), its kind, and the blob holding its normalized definition.
type TreeEntry struct {
	Path string     `json:"path"`
	Kind ObjectKind `json:"kind"`
	Blob Hash       `json:"blob"`
}

// Tree is an immutable snapshot of every tracked object at one instant.
// Entries are kept sorted by path; the hash is invariant to the order in
// which entries were supplied.
type Tree struct {
	Hash    Hash        `json:"hash"`
	Entries []TreeEntry `json:"entries"`
}

// Lookup returns the entry at path, if present.
func (t Tree) Lookup(path string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Commit is an immutable history node. The hash is deterministic in
// (Tree, Parents, Author, Message); When is recorded metadata and does not
// participate in the hash.
type Commit struct {
	Hash    Hash              `json:"hash"`
	Tree    Hash              `json:"tree"`
	Parents []Hash            `json:"parents"`
	Author  string            `json:"author"` // "Name <email>"
	Message string            `json:"message"`
	When    time.Time         `json:"when"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// IsRoot returns true for a parentless commit.
func (c Commit) IsRoot() bool {
	return len(c.Parents) == 0
}

// IsMerge returns true for a two-parent commit.
func (c Commit) IsMerge() bool {
	return len(c.Parents) == 2
}

// Branch is a mutable named pointer to a commit. It is the only mutable
// entity in the store.
type Branch struct {
	Name      string            `json:"name"`
	Head      Hash              `json:"head"`
	CreatedAt time.Time         `json:"created_at"`
	CreatedBy string            `json:"created_by"`
	Meta      map[string]string `json:"meta,omitempty"`
}
