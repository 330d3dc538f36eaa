// Package hw adapts real hardware to the interfaces the protocol core
// polls: UART ports, the fob's flash page, and the car's EEPROM image.
package hw

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// SerialPort wraps a UART as a fobcore.Port: non-blocking single-byte
// reads, blocking writes, 8N1 framing fixed by the protocol.
type SerialPort struct {
	port *serial.Port
	buf  [1]byte
}

// OpenSerial opens device at the given baud rate. ReadTimeout is kept at
// its minimum so the polling loop never stalls on an idle link.
func OpenSerial(device string, baud int) (*SerialPort, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &SerialPort{port: p}, nil
}

// ReadByte returns the next byte if one is available before the port's
// read timeout elapses.
func (s *SerialPort) ReadByte() (byte, bool) {
	n, err := s.port.Read(s.buf[:])
	if err != nil || n == 0 {
		return 0, false
	}
	return s.buf[0], true
}

// Write blocks until the whole buffer is on the wire.
func (s *SerialPort) Write(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Close releases the underlying port.
func (s *SerialPort) Close() error {
	return s.port.Close()
}
