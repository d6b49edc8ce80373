// Package op implements the engine's compound operations, the ones that
// span several persistence primitives. The main resident is the three-way
// merge: base discovery, fast-forward detection, conflict analysis,
// resolution and completion, with every conflicted merge parked in a durable
// attempt until a caller resolves or abandons it.
package op
