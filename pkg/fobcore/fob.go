package fobcore

import (
	"bytes"
	"errors"
	"log/slog"
)

// fobHostCommand handles the host-side commands a fob accepts:
// PAIR_PAIRED_ENTER, PAIR_UNPAIRED_START, ENABLE_FEATURE.
func (d *Device) fobHostCommand(l *Link, payload []byte) error {
	cmd := payload[0]
	switch cmd {
	case CmdPairPairedEnter:
		if !d.state.IsPaired() {
			return &ProtoError{Kind: ErrRoleMismatch, Link: l.name, Cmd: cmd}
		}
		// The transaction is not over for this fob; keep the session so
		// the host stays connected while the other fob pairs.
		return l.sendAck()

	case CmdPairUnpairedStart:
		if d.state.IsPaired() {
			return &ProtoError{Kind: ErrRoleMismatch, Link: l.name, Cmd: cmd}
		}
		if len(payload) != pairStartWireLen {
			return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: cmd}
		}
		if d.txn != txnNone {
			return &ProtoError{Kind: ErrUnexpectedCommand, Link: l.name, Cmd: cmd,
				Cause: errors.New("transaction already in flight")}
		}
		copy(d.txnPin[:], payload[1:1+PinFieldSize])
		if err := d.board.BeginHandshake(); err != nil {
			d.clearTxn()
			d.board.Teardown()
			return err
		}
		d.txn = txnAwaitPairedECDH
		slog.Debug("pairing started, waiting for paired fob")
		return nil

	case CmdEnableFeature:
		return d.enableFeature(l, payload)

	default:
		return &ProtoError{Kind: ErrUnexpectedCommand, Link: l.name, Cmd: cmd}
	}
}

// enableFeature decrypts the packaged feature blob, validates it against
// this fob's identity and stored PIN, and commits the new bitfield.
func (d *Device) enableFeature(l *Link, payload []byte) error {
	cmd := payload[0]
	if !d.state.IsPaired() {
		return &ProtoError{Kind: ErrRoleMismatch, Link: l.name, Cmd: cmd}
	}
	if len(payload) != enableWireLen {
		return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: cmd}
	}
	if d.featureKey == nil {
		return &ProtoError{Kind: ErrUnexpectedCommand, Link: l.name, Cmd: cmd,
			Cause: errors.New("no feature key provisioned")}
	}
	blob := make([]byte, FeatureBlobSize)
	copy(blob, payload[1:1+FeatureBlobSize])
	if err := cbcOnce(d.featureKey, blob, false); err != nil {
		return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: cmd, Cause: err}
	}
	if !bytes.Equal(blob[:CarIDSize], d.carID[:]) {
		return &ProtoError{Kind: ErrCarIDMismatch, Link: l.name, Cmd: cmd}
	}
	if !bytes.Equal(blob[CarIDSize:CarIDSize+StoredPinSize], d.state.Pin[:]) {
		return &ProtoError{Kind: ErrPinMismatch, Link: l.name, Cmd: cmd}
	}
	feature := blob[CarIDSize+StoredPinSize]
	if feature > 2 {
		return &ProtoError{Kind: ErrFeatureOutOfRange, Link: l.name, Cmd: cmd}
	}

	updated := *d.state
	updated.Features |= 1 << feature
	if err := commitFobState(d.flash, &updated); err != nil {
		return err
	}
	*d.state = updated
	slog.Info("feature enabled", "feature", feature, "bitfield", updated.Features)

	err := l.sendAck()
	l.Teardown()
	return err
}

// fobBoardCommand handles fob-to-fob traffic: serving GET_SECRET on the
// paired side, finishing the pairing on the unpaired side.
func (d *Device) fobBoardCommand(l *Link, payload []byte) error {
	cmd := payload[0]
	switch cmd {
	case CmdGetSecret:
		if !d.state.IsPaired() {
			return &ProtoError{Kind: ErrRoleMismatch, Link: l.name, Cmd: cmd}
		}
		if len(payload) != getSecretWireLen {
			return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: cmd}
		}
		if !bytes.Equal(payload[1:1+StoredPinSize], d.state.Pin[:]) {
			return &ProtoError{Kind: ErrPinMismatch, Link: l.name, Cmd: cmd}
		}
		msg := make([]byte, 0, 1+CarSecretSize)
		msg = append(msg, CmdReturnSecret)
		msg = append(msg, d.state.Secret[:]...)
		err := l.SendFrame(msg)
		l.Teardown()
		return err

	case CmdReturnSecret:
		if d.state.IsPaired() {
			return &ProtoError{Kind: ErrRoleMismatch, Link: l.name, Cmd: cmd}
		}
		if d.txn != txnAwaitPairedECDH {
			return &ProtoError{Kind: ErrUnexpectedCommand, Link: l.name, Cmd: cmd}
		}
		if len(payload) != returnSecretWireLen {
			return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: cmd}
		}
		updated := *d.state
		updated.Paired = PairedMagic
		copy(updated.Pin[:], d.txnPin[:StoredPinSize])
		copy(updated.Secret[:], payload[1:1+CarSecretSize])
		if err := commitFobState(d.flash, &updated); err != nil {
			return err
		}
		*d.state = updated
		d.clearTxn()
		l.Teardown()
		slog.Info("fob paired")
		err := d.host.sendAck()
		d.host.Teardown()
		return err

	default:
		return &ProtoError{Kind: ErrUnexpectedCommand, Link: l.name, Cmd: cmd}
	}
}
