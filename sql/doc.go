// Package sql provides deterministic canonicalization of DDL definition
// text and a small structural model of CREATE TABLE statements.
//
// Normalize is the deduplication identity contract of the engine: two
// definitions that normalize to the same bytes are the same content and
// share one blob. ParseCreateTable backs conflict sub-classification and
// the conservative union merge of disjoint column additions.
//
// The package understands just enough SQL for those two jobs. It is not a
// SQL parser; anything it cannot model it leaves alone.
package sql
