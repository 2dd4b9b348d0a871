// Package mirror is the main-context half of the protocol. It replays the
// worker's HYDRATE and MUTATE batches into a node tree, answers the
// worker's calls into main-context objects and forwards user events back.
//
// A mirror loaded with the same markup the worker hydrated from adopts the
// existing nodes, so hydration only has to describe what changed.
package mirror
