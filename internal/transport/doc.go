// Package transport moves protocol messages between two contexts.
//
// A Poster sends messages; one call is one message. An endpoint that can
// also deliver inbound messages implements Receiver. Sessions treat a
// send-only transport as having no listener capability, and remote calls
// fail fast on it.
//
// Implementations:
//   - Pipe: two in-process endpoints, used by tests and by hosts embedding
//     both contexts in one process. Messages are deep-copied so the
//     contexts never share memory.
//   - WebSocket: a gorilla/websocket connection carrying sonic-encoded JSON,
//     optionally zstd compressed, with an inbound rate limit.
package transport
