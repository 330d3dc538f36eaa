package fobcore

import (
	"log/slog"

	crc "github.com/pasztorpisti/go-crc"
)

// Frame layout on the wire: one length byte L counting every trailing byte
// (payload plus CRC), L-2 payload bytes, then a big-endian CRC-16 over the
// payload only. 3 <= L < maxFrame.
const (
	maxFrame = 255
	maxData  = maxFrame - 2 // payload capacity of the receive buffer
	minLen   = 3            // command byte + 2 CRC bytes
)

// checksum is CRC-16/XMODEM: poly 0x1021, zero init, unreflected.
func checksum(payload []byte) uint16 {
	return crc.CRC16XMODEM.Calc(payload)
}

type rxState int

const (
	rxReset rxState = iota
	rxData
	rxCRC
)

// framer reconstructs frames from a serial byte stream, one byte at a
// time. Malformed input never produces a frame: bad length bytes are
// ignored in place and CRC mismatches silently reset the machine.
type framer struct {
	state     rxState
	buf       [maxData]byte
	n         int
	remaining int
	crc       uint16
}

// Feed advances the receive machine by one byte. When a frame completes
// with a valid CRC it returns (payload, true); the payload slice aliases
// the framer's buffer and is only valid until the next Feed call.
func (f *framer) Feed(b byte) ([]byte, bool) {
	switch f.state {
	case rxReset:
		if int(b) < minLen || int(b) >= maxFrame {
			return nil, false
		}
		f.crc = 0
		f.n = 0
		f.remaining = int(b)
		f.state = rxData
	case rxData:
		if f.n >= len(f.buf) {
			f.state = rxReset
			return nil, false
		}
		f.buf[f.n] = b
		f.n++
		f.remaining--
		if f.remaining == 2 {
			f.state = rxCRC
		}
	case rxCRC:
		f.crc = f.crc<<8 | uint16(b)
		f.remaining--
		if f.remaining == 0 {
			f.state = rxReset
			payload := f.buf[:f.n]
			if got := checksum(payload); got != f.crc {
				slog.Debug("frame dropped on CRC mismatch",
					"want", f.crc, "got", got, "len", f.n)
				return nil, false
			}
			return payload, true
		}
	}
	return nil, false
}

// Reset discards any partially received frame.
func (f *framer) Reset() {
	f.state = rxReset
	f.n = 0
}

// encodeFrame wraps payload into a complete wire frame: length byte,
// payload, big-endian CRC-16. The payload must already be encrypted and
// padded as required for its command.
func encodeFrame(payload []byte) []byte {
	sum := checksum(payload)
	out := make([]byte, 0, 1+len(payload)+2)
	out = append(out, byte(len(payload)+2))
	out = append(out, payload...)
	out = append(out, byte(sum>>8), byte(sum))
	return out
}
