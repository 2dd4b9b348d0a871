// Package intern gives nodes and strings small, stable integer identities.
//
// Node ids are 1-based and assigned on first reference; 0 is the null node.
// String ids are 0-based in first-seen order. Both tables remember which
// entries have not yet been sent to the remote side; Consume* returns those
// entries exactly once and resets the set, so callers must call it once per
// flush.
//
// Ids are never reclaimed, even after a node leaves the tree, so the remote
// side can never confuse two nodes that shared an id.
//
// The tables are not safe for concurrent use. A session owns them and only
// touches them from its scheduler.
package intern
