// Package ps implements persistence for the version-control engine: a
// content-addressed object store, branch refs with compare-and-swap, merge
// attempt records, and the append-only event outbox.
//
// The Store interface abstracts the durable medium; memory, file and sqlite
// implementations are provided. Persistence layers the engine's plumbing on
// top of a Store: canonical object encoding and hashing, branch operations,
// history traversal, tree diffing and garbage collection.
//
// Objects (blobs, trees, commits) are immutable once written, so reads never
// take a branch lock. Branch refs are the only mutable records; every head
// mutation goes through an atomic compare-and-swap that appends its outbox
// events in the same store transaction.
package ps
