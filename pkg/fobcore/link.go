package fobcore

import (
	"fmt"
	"io"
	"log/slog"
)

// Port abstracts one UART for real hardware and test doubles. ReadByte is
// non-blocking; Write blocks until the whole frame is on the wire.
type Port interface {
	ReadByte() (byte, bool)
	Write(p []byte) error
}

// Link is one point-to-point serial connection: its framing codec, its
// session, and its transmit path. A device owns two, host and board.
type Link struct {
	name string
	port Port
	fr   framer
	sess session
	rng  io.Reader
}

func newLink(name string, port Port, rng io.Reader) *Link {
	return &Link{name: name, port: port, rng: rng}
}

// Established reports whether this link has a live session.
func (l *Link) Established() bool {
	return l.sess.established
}

// Teardown drops the link's session. The framer is left alone; frame
// boundaries are independent of session state.
func (l *Link) Teardown() {
	if l.sess.established || l.sess.initiated {
		slog.Debug("session teardown", "link", l.name)
	}
	l.sess.reset()
}

// poll feeds at most one available byte into the framing codec and
// returns a completed, CRC-validated raw payload when one is ready.
func (l *Link) poll() ([]byte, bool) {
	b, ok := l.port.ReadByte()
	if !ok {
		return nil, false
	}
	return l.fr.Feed(b)
}

// SendFrame transmits a command payload (command byte first). Handshake
// commands go out in cleartext; everything else is padded to a 16-byte
// multiple with entropy bytes and, when the session is up, encrypted in
// place. A NACK raised before establishment goes out as cleartext.
func (l *Link) SendFrame(payload []byte) error {
	if len(payload) == 0 || len(payload) > maxData {
		return fmt.Errorf("link %s: bad payload length %d", l.name, len(payload))
	}
	cmd := payload[0]
	out := payload
	if !isHandshakeCmd(cmd) {
		padded := make([]byte, padTo16(len(payload)))
		copy(padded, payload)
		if _, err := io.ReadFull(l.rng, padded[len(payload):]); err != nil {
			return fmt.Errorf("link %s: pad: %w", l.name, err)
		}
		if l.sess.established {
			if err := l.sess.ctx.encrypt(padded); err != nil {
				return fmt.Errorf("link %s: %w", l.name, err)
			}
		}
		out = padded
	}
	slog.Debug("tx", "link", l.name, "cmd", commandName(cmd), "len", len(out))
	return l.port.Write(encodeFrame(out))
}

// BeginHandshake starts session establishment from the initiator side:
// fresh ephemeral keypair, fresh IV, NEW_ECDH on the wire. The session
// stays unestablished until the peer's RETURN_ECDH arrives.
func (l *Link) BeginHandshake() error {
	l.sess.reset()
	kp, err := generateKeyPair(l.rng)
	if err != nil {
		return fmt.Errorf("link %s: %w", l.name, err)
	}
	if _, err := io.ReadFull(l.rng, l.sess.iv[:]); err != nil {
		return fmt.Errorf("link %s: IV: %w", l.name, err)
	}
	l.sess.local = kp
	l.sess.initiated = true

	msg := make([]byte, 0, newECDHPayloadLen)
	msg = append(msg, CmdNewECDH)
	msg = append(msg, kp.public[:]...)
	msg = append(msg, l.sess.iv[:]...)
	return l.SendFrame(msg)
}

// finishHandshake completes an initiated handshake with the peer's
// RETURN_ECDH payload.
func (l *Link) finishHandshake(payload []byte) error {
	if !l.sess.initiated {
		return &ProtoError{Kind: ErrSessionNotEstablished, Link: l.name, Cmd: CmdReturnECDH}
	}
	if len(payload) != returnECDHPayloadLen {
		return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: CmdReturnECDH}
	}
	if err := l.sess.establish(payload[1:]); err != nil {
		return &ProtoError{Kind: ErrSessionNotEstablished, Link: l.name, Cmd: CmdReturnECDH, Cause: err}
	}
	slog.Debug("session established", "link", l.name, "role", "initiator")
	return nil
}

// respondHandshake handles a peer's NEW_ECDH on an unestablished link:
// generate our ephemeral keypair, adopt the peer's IV, derive the session
// key, and answer with RETURN_ECDH.
func (l *Link) respondHandshake(payload []byte) error {
	if len(payload) != newECDHPayloadLen {
		return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: CmdNewECDH}
	}
	kp, err := generateKeyPair(l.rng)
	if err != nil {
		return &ProtoError{Kind: ErrSessionNotEstablished, Link: l.name, Cmd: CmdNewECDH, Cause: err}
	}
	l.sess.local = kp
	copy(l.sess.iv[:], payload[1+PublicKeySize:])
	if err := l.sess.establish(payload[1 : 1+PublicKeySize]); err != nil {
		l.sess.reset()
		return &ProtoError{Kind: ErrSessionNotEstablished, Link: l.name, Cmd: CmdNewECDH, Cause: err}
	}

	msg := make([]byte, 0, returnECDHPayloadLen)
	msg = append(msg, CmdReturnECDH)
	msg = append(msg, kp.public[:]...)
	if err := l.SendFrame(msg); err != nil {
		l.sess.reset()
		return err
	}
	slog.Debug("session established", "link", l.name, "role", "responder")
	return nil
}

// decrypt turns a raw received payload into the dispatchable plaintext.
// On an established link the whole payload is decrypted in place; a
// length that is not a 16-byte multiple is a framing-level error and the
// frame is dropped silently (ok=false, no NACK).
func (l *Link) decrypt(raw []byte) ([]byte, bool, error) {
	if !l.sess.established {
		return raw, true, nil
	}
	if len(raw)%16 != 0 {
		slog.Debug("frame dropped, not block aligned", "link", l.name, "len", len(raw))
		return nil, false, nil
	}
	if err := l.sess.ctx.decrypt(raw); err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (l *Link) sendAck() error {
	return l.SendFrame([]byte{CmdAck})
}

func (l *Link) sendNack() error {
	return l.SendFrame([]byte{CmdNack})
}

// nackAndTeardown is the single terminal error path for a link: exactly
// one NACK on the wire, then session teardown. The NACK is encrypted if
// the session is still up at that point, cleartext otherwise.
func (l *Link) nackAndTeardown() error {
	err := l.sendNack()
	l.Teardown()
	return err
}
