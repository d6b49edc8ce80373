package core

import "time"

// ChangeKind describes a captured structural change.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "CREATE"
	ChangeAlter  ChangeKind = "ALTER"
	ChangeDrop   ChangeKind = "DROP"
)

// NormalizedChange is one structural change produced by the external
// change-capture collaborator. OldDefinition is optional context for ALTER
// and DROP; the engine trusts the definitions, not the hooks that saw them.
type NormalizedChange struct {
	Kind          ObjectKind `json:"object_kind"`
	Path          string     `json:"object_path"`
	Change        ChangeKind `json:"change_kind"`
	NewDefinition string     `json:"new_definition,omitempty"`
	OldDefinition string     `json:"old_definition,omitempty"`
	Author        Identity   `json:"author"`
	Timestamp     time.Time  `json:"timestamp"`
}

// DiffKind classifies one object path in a tree comparison.
type DiffKind string

const (
	DiffCreate    DiffKind = "CREATE"
	DiffDrop      DiffKind = "DROP"
	DiffModify    DiffKind = "MODIFY"
	DiffUnchanged DiffKind = "UNCHANGED"
)

// Change is one entry of a tree diff: how the object at Path moved between
// tree A and tree B. OldBlob is zero for CREATE, NewBlob is zero for DROP.
type Change struct {
	Path    string     `json:"path"`
	Kind    ObjectKind `json:"kind"`
	Diff    DiffKind   `json:"diff"`
	OldBlob Hash       `json:"old_blob,omitempty"`
	NewBlob Hash       `json:"new_blob,omitempty"`
}
