// Package session holds the transfer state of one worker context and
// batches its wire mutations.
//
// A Session owns the node and string tables, the phase, the pending batch
// and the inbound listeners of one worker/main pair. Several sessions can
// live in one process; nothing is global.
//
// Batching: the first Transfer in a turn schedules a microtask flush. The
// flush sends one message holding creation records for nodes first seen in
// the turn, the strings first interned in the turn and every queued record
// in call order. The first flush after Observe is a HYDRATE message; every
// later one is a MUTATE message.
//
// Manager tracks the sessions a host process is serving.
package session
