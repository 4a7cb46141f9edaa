// Package encoding implements the QTP wire primitives: compact integers and
// the length-prefixed strings and byte arrays built on top of them.
//
// # Compact integers
//
// A compact integer is a big-endian two's-complement value of 1 to 9 bytes.
// The number of leading one bits in the first byte tells how many bytes
// follow, so a reader knows the length after looking at one byte:
//
//	buf := encoding.AppendCompactLong(nil, 8191)   // 2 bytes: 0x9F 0xFF
//	v, n, err := encoding.DecodeCompactLong(buf)   // 8191, 2, nil
//
// Streams use ReadCompactLong over an io.ByteReader. A stream that ends in
// the middle of a value yields errs.ErrUnexpectedEOF, one that ends cleanly
// between values yields io.EOF.
//
// # Strings and byte arrays
//
// Strings are written as a compact byte length followed by UTF-8 bytes; a
// length of -1 marks null. Byte arrays use the same framing.
package encoding
