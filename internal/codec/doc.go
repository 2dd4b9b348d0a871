// Package codec serializes call arguments and return values into a compact
// tagged byte form and back.
//
// Every value starts with a one-byte tag. Numbers use the smallest tag that
// holds them: integers pick int8/int16/int32 (negative) or
// uint8/uint16/uint32 (non-negative) by magnitude; other numbers are float32
// unless their magnitude exceeds math.MaxFloat32, in which case float64 is
// used. Integers beyond 32 bits are written as float64. The width choice is
// part of the format: a decoder that assumed a fixed width would misread the
// stream.
//
// Strings are never inline. They are written as a two-byte string table id,
// so the encoder needs a StringStore and the decoder a StringLookup.
//
// Values decode to their JavaScript-shaped Go equivalents: every number
// becomes float64, arrays become []any, plain objects become
// map[string]any, typed arrays keep their Go slice type and object
// references become Reference.
//
// All multi-byte fields are little endian.
package codec
