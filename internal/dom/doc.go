// Package dom is the worker-side document: a small node tree whose every
// mutation is reported to local observers and queued as a wire record on
// the session.
//
// Nodes are interned when created. A document hydrated from server markup
// with HydrateHTML reuses the markup's pre-order ids, so the main context
// can adopt its existing copy instead of rebuilding it. Observe sends the
// hydrate message; from then on each change leaves as one record in the
// next batch.
//
// Inbound EVENT messages are dispatched to listeners on the target and
// bubble to its ancestors. Storage areas mirror local and session storage
// into the main context.
package dom
