// Package fobcore implements the protocol core of the car key-fob
// access-control system: the byte-level framing codec, the per-link
// ECDH/AES-CBC session layer, the role command dispatcher, and the
// cross-link transactions (pair, enable feature, unlock).
//
// Each device owns two point-to-point serial links. The host link talks
// to the Host PC; the board link talks to a peer board (fob to fob while
// pairing, fob to car while unlocking). A Device is driven by calling
// Step from a single polling context; one Step feeds at most one byte
// from each link through its framing codec, so all protocol state is
// mutated from one goroutine.
//
// Frames carry a length byte, a payload whose first byte is the command,
// and a big-endian CRC-16 over the payload. The two handshake commands
// (NEW_ECDH, RETURN_ECDH) travel in cleartext; every other command is
// padded to a 16-byte multiple with entropy bytes and encrypted under
// the link's session key, an AES-192 key agreed over secp192r1 whose CBC
// IV chains across frames in both directions.
//
// Hardware is injected behind small interfaces: Port for a UART, Flash
// for the fob's persistent page, io.ReaderAt for the car's EEPROM, and
// io.Reader for entropy. internal/hw provides real implementations; the
// tests use in-memory doubles.
package fobcore
