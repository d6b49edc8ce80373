// Package vc is the engine's public surface: an Engine that records
// normalized schema changes as commits, diffs and walks history, merges
// branches, and administers the store (garbage collection, archive
// export/import, git mirroring).
//
// The Engine embeds *ps.Persistence, so the persistence primitives (branch
// management, history traversal, the event outbox) are part of its API.
package vc
