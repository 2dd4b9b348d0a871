// Package remote addresses objects and functions living in the main
// context from a worker, and exposes worker functions to it.
//
// Everything rides the session's batch encoder. Creating a reference
// returns its id at once; the main side builds the object when it replays
// the record, before any later record can name it. Calls carry a
// correlation id and settle a future when the result message arrives, or
// reject with ErrTimeout first.
//
// Ids are uint32 counters per Bridge that wrap from math.MaxUint32 back to
// zero. A reference still alive after four billion newer ones collides
// with its successor; that is accepted.
package remote
