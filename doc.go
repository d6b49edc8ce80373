// Package pggit is a content-addressable version-control engine for
// relational schema changes.
//
// Schema object definitions are stored as content-addressed blobs, grouped
// into immutable tree snapshots and linked into a commit history. Branches
// are the only mutable records; every head move is an atomic
// compare-and-swap that publishes its events in the same transaction.
//
// # Quick Start
//
// Create an in-memory repository:
//
//	persistence, _ := ps.NewMemoryPersistence()
//	repo := pggit.Open(persistence)
//	engine := repo.Engine(core.Identity{Name: "App", Email: "app@example.com"})
//
//	engine.CreateBranch("main", core.ZeroHash, engine.Identity)
//	engine.Commit(ctx, "main", []core.NormalizedChange{{
//		Change:        core.ChangeCreate,
//		Path:          "public.users",
//		NewDefinition: "CREATE TABLE users (id INT PRIMARY KEY)",
//	}}, "add users table")
//
// # Capabilities
//
//   - Content-addressed storage: identical definitions share one blob
//   - Branching with fast-forward and three-way merges
//   - Typed merge conflicts (schema/schema, delete/modify, type mismatch)
//     with use_source, use_target, union and manual resolution
//   - Hash-based diff between any two commits or branches
//   - Reachability garbage collection
//   - Transactional event outbox for downstream consumers
//   - Memory, file and SQLite persistence backends
//   - Archive export/import (local, S3, HTTP) and git mirroring
package pggit
