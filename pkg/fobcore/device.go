package fobcore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Role selects which firmware personality a Device runs.
type Role int

const (
	RoleCar Role = iota
	RoleFob
)

// txnKind is the device-wide transaction state sequencing board-link
// responses against prior host-link commands. It returns to txnNone on
// completion, on any NACK sent or received on the board link, and on
// fatal error.
type txnKind int

const (
	txnNone txnKind = iota
	txnAwaitPairedECDH // unpaired fob waiting for the paired fob's RETURN_ECDH
	txnAwaitCarECDH    // paired fob waiting for the car's RETURN_ECDH
)

// Device is one board's protocol state: both links, the transaction
// coordinator, and the role-specific persistent state.
type Device struct {
	role  Role
	host  *Link
	board *Link
	rng   io.Reader

	carID [CarIDSize]byte

	// car only
	eeprom io.ReaderAt

	// fob only
	flash      Flash
	state      *FobState
	featureKey []byte

	txn    txnKind
	txnPin [PinFieldSize]byte // PIN stashed for the pairing transaction
}

// CarConfig carries a car's ports and provisioned constants.
type CarConfig struct {
	Host   Port
	Board  Port
	EEPROM io.ReaderAt
	CarID  [CarIDSize]byte
	Rand   io.Reader // defaults to crypto/rand
}

// FobConfig carries a fob's ports, storage, and provisioned constants.
// ROMPin/ROMSecret are the factory defaults installed on first boot when
// Provisioned is set (a factory-paired build).
type FobConfig struct {
	Host        Port
	Board       Port
	Flash       Flash
	EEPROM      io.ReaderAt // provisioning keys at the fixed low offsets
	CarID       [CarIDSize]byte
	Provisioned bool
	ROMPin      [StoredPinSize]byte
	ROMSecret   [CarSecretSize]byte
	Rand        io.Reader
}

// NewCar builds a car device.
func NewCar(cfg CarConfig) (*Device, error) {
	if cfg.EEPROM == nil {
		return nil, fmt.Errorf("car needs an EEPROM image")
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.Reader
	}
	d := &Device{
		role:   RoleCar,
		rng:    rng,
		carID:  cfg.CarID,
		eeprom: cfg.EEPROM,
	}
	d.host = newLink("host", cfg.Host, rng)
	d.board = newLink("board", cfg.Board, rng)
	return d, nil
}

// NewFob builds a fob device. It loads the flash page, remaps the erased
// feature bitfield, and installs the ROM defaults on a factory-paired fob
// that boots unpaired.
func NewFob(cfg FobConfig) (*Device, error) {
	if cfg.Flash == nil {
		return nil, fmt.Errorf("fob needs flash-backed state")
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.Reader
	}
	state, err := loadFobState(cfg.Flash)
	if err != nil {
		return nil, err
	}
	d := &Device{
		role:  RoleFob,
		rng:   rng,
		carID: cfg.CarID,
		flash: cfg.Flash,
		state: state,
	}
	if cfg.EEPROM != nil {
		key, err := readProvKey(cfg.EEPROM, FeatureKeyLoc)
		if err != nil {
			return nil, err
		}
		d.featureKey = key
	}
	if !state.IsPaired() && cfg.Provisioned {
		state.Paired = PairedMagic
		state.Pin = cfg.ROMPin
		state.Secret = cfg.ROMSecret
		if err := commitFobState(cfg.Flash, state); err != nil {
			return nil, err
		}
		slog.Info("installed factory pairing defaults")
	}
	d.host = newLink("host", cfg.Host, rng)
	d.board = newLink("board", cfg.Board, rng)
	return d, nil
}

// State exposes the fob's persistent record (nil on a car).
func (d *Device) State() *FobState {
	return d.state
}

// Idle reports whether no transaction is in flight.
func (d *Device) Idle() bool {
	return d.txn == txnNone
}

// Step runs one cooperative poll iteration: at most one byte from the
// host link, then at most one byte from the board link. Only transport
// failures are returned; protocol failures are answered on the wire.
func (d *Device) Step() error {
	if err := d.pollLink(d.host, true); err != nil {
		return err
	}
	return d.pollLink(d.board, false)
}

func (d *Device) pollLink(l *Link, isHost bool) error {
	raw, ok := l.poll()
	if !ok {
		return nil
	}
	payload, ok, err := l.decrypt(raw)
	if err != nil || !ok {
		return err
	}
	return d.route(l, isHost, payload)
}

// route dispatches one validated, decrypted payload. An unestablished
// link only ever routes to session establishment.
func (d *Device) route(l *Link, isHost bool, payload []byte) error {
	cmd := payload[0]
	slog.Debug("rx", "link", l.name, "cmd", commandName(cmd), "len", len(payload))

	if !l.Established() {
		return d.routeHandshake(l, payload)
	}

	if cmd == CmdNack {
		return d.peerNacked(l)
	}

	var err error
	switch {
	case d.role == RoleCar && isHost:
		err = d.carHostCommand(l, payload)
	case d.role == RoleCar:
		err = d.carBoardCommand(l, payload)
	case isHost:
		err = d.fobHostCommand(l, payload)
	default:
		err = d.fobBoardCommand(l, payload)
	}
	return d.resolve(l, err)
}

// routeHandshake handles the only traffic an unestablished link accepts:
// the peer's NEW_ECDH, or the RETURN_ECDH answering our own initiation.
func (d *Device) routeHandshake(l *Link, payload []byte) error {
	cmd := payload[0]
	switch {
	case cmd == CmdReturnECDH && l.sess.initiated:
		if err := l.finishHandshake(payload); err != nil {
			return d.resolve(l, err)
		}
		return d.sessionUp(l)
	case cmd == CmdNewECDH && !l.sess.initiated:
		err := l.respondHandshake(payload)
		return d.resolve(l, err)
	case cmd == CmdNack:
		return d.peerNacked(l)
	default:
		return d.resolve(l, &ProtoError{Kind: ErrSessionNotEstablished, Link: l.name, Cmd: cmd})
	}
}

// resolve applies the terminal-error policy: a ProtoError yields exactly
// one NACK on the offending link and tears that session down. A failure on
// the board link also clears the transaction state, NACKing the host if
// the transaction came from there; a host-link failure leaves the
// transaction state as it is. Transport errors pass through untouched.
func (d *Device) resolve(l *Link, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProtoError
	if !errors.As(err, &pe) {
		return err
	}
	slog.Warn("command rejected", "link", l.name, "cmd", commandName(pe.Cmd), "reason", pe.Kind.String())
	nackErr := l.nackAndTeardown()
	if l == d.board {
		d.failTransaction()
	}
	return nackErr
}

// peerNacked handles a NACK from the other end: tear the session down
// and unwind any transaction that was riding on it. No reply.
func (d *Device) peerNacked(l *Link) error {
	slog.Debug("peer NACK", "link", l.name)
	l.Teardown()
	if l == d.board {
		return d.failTransaction()
	}
	return nil
}

// failTransaction clears the transaction state and propagates a NACK to
// the host when the failed board-link exchange was host-initiated.
func (d *Device) failTransaction() error {
	wasPairing := d.txn == txnAwaitPairedECDH
	d.clearTxn()
	if wasPairing && d.host.Established() {
		err := d.host.sendNack()
		d.host.Teardown()
		return err
	}
	return nil
}

func (d *Device) clearTxn() {
	d.txn = txnNone
	d.txnPin = [PinFieldSize]byte{}
}

// sessionUp continues the pending transaction once a board-link handshake
// we initiated completes.
func (d *Device) sessionUp(l *Link) error {
	if d.role != RoleFob || l != d.board {
		return nil
	}
	switch d.txn {
	case txnAwaitPairedECDH:
		msg := make([]byte, 0, 1+PinFieldSize)
		msg = append(msg, CmdGetSecret)
		msg = append(msg, d.txnPin[:]...)
		return l.SendFrame(msg)
	case txnAwaitCarECDH:
		msg := make([]byte, 0, 1+CarSecretSize+1)
		msg = append(msg, CmdUnlockCar)
		msg = append(msg, d.state.Secret[:]...)
		msg = append(msg, d.state.Features)
		err := l.SendFrame(msg)
		l.Teardown()
		d.clearTxn()
		return err
	default:
		return nil
	}
}

// PressUnlock is the debounced unlock-button edge on a fob. It starts the
// unlock transaction when the fob is paired and no transaction is
// pending; otherwise the press is ignored.
func (d *Device) PressUnlock() error {
	if d.role != RoleFob || d.txn != txnNone || !d.state.IsPaired() {
		return nil
	}
	if err := d.board.BeginHandshake(); err != nil {
		d.board.Teardown()
		return err
	}
	d.txn = txnAwaitCarECDH
	return nil
}
