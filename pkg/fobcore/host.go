package fobcore

import (
	"crypto/rand"
	"io"
)

// Host drives the host-PC side of the protocol over a single link: it
// initiates the session and exchanges command frames with the device at
// the other end. The tooling in cmd/fobctl and the protocol tests both
// run on this type.
type Host struct {
	link *Link
}

// NewHost wraps a port as the host end of a link.
func NewHost(port Port, rng io.Reader) *Host {
	if rng == nil {
		rng = rand.Reader
	}
	return &Host{link: newLink("host-pc", port, rng)}
}

// Begin starts session establishment with the connected device.
func (h *Host) Begin() error {
	return h.link.BeginHandshake()
}

// Established reports whether the session handshake has completed.
func (h *Host) Established() bool {
	return h.link.Established()
}

// Send transmits one command payload under the current session.
func (h *Host) Send(payload []byte) error {
	return h.link.SendFrame(payload)
}

// Teardown drops the host side of the session.
func (h *Host) Teardown() {
	h.link.Teardown()
}

// Poll feeds at most one available byte through the framing codec and
// session layer. A RETURN_ECDH answering our initiation is consumed
// internally to complete the handshake; any other completed frame is
// returned decrypted.
func (h *Host) Poll() ([]byte, bool, error) {
	raw, ok := h.link.poll()
	if !ok {
		return nil, false, nil
	}
	payload, ok, err := h.link.decrypt(raw)
	if err != nil || !ok {
		return nil, false, err
	}
	if !h.link.Established() && h.link.sess.initiated && payload[0] == CmdReturnECDH {
		if err := h.link.finishHandshake(payload); err != nil {
			h.link.Teardown()
			return nil, false, err
		}
		return nil, false, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true, nil
}
