// Package core provides core types used throughout pggit.
//
// The package defines the fundamental records of the engine: hashes,
// tree entries, commits, branches, normalized changes, merge attempts
// and conflicts, outbox events, and the error taxonomy.
//
// # Identity
//
// Identity identifies the author of commits:
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Object Kinds
//
// Tracked schema objects are classified by kind:
//   - KindTable, KindView, KindIndex, KindFunction,
//     KindSequence, KindTrigger, KindType
//
// # Change Records
//
// External change capture feeds the engine NormalizedChange records:
//
//	change := core.NormalizedChange{
//	    Kind:          core.KindTable,
//	    Path:          "public.users",
//	    Change:        core.ChangeCreate,
//	    NewDefinition: "CREATE TABLE public.users (id int)",
//	}
package core
