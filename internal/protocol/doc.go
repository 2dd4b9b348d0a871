// Package protocol defines the wire schema shared by the worker and main
// contexts: phases, message types, mutation opcodes and their arities.
//
// A mutation stream is a flat sequence of uint16 words. Records carry no
// boundary markers, so both sides must agree on the arity of every opcode;
// Skip is the single source of truth for that.
//
// Conventions:
//   - Node id 0 means "no node".
//   - String id NoString (0xFFFF) means "no string".
//   - 32-bit values (object ids, correlation ids) take two words, low first.
//   - Codec payloads are length-prefixed with two words and packed two bytes
//     per word.
package protocol
