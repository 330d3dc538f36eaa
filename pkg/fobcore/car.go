package fobcore

import (
	"bytes"
	"log/slog"
)

// carNotHappy is the plaintext banner the car emits to the host when an
// UNLOCK_CAR carries the wrong car ID.
var carNotHappy = []byte("Car is not happy")

// carHostCommand rejects everything on the car's host link; the host only
// ever listens there for banner output.
func (d *Device) carHostCommand(l *Link, payload []byte) error {
	return &ProtoError{Kind: ErrUnexpectedCommand, Link: l.name, Cmd: payload[0]}
}

// carBoardCommand handles the fob side of an unlock. Only UNLOCK_CAR does
// anything; unknown commands are acknowledged for diagnostic
// responsiveness but still drop the session.
func (d *Device) carBoardCommand(l *Link, payload []byte) error {
	cmd := payload[0]
	if cmd != CmdUnlockCar {
		err := l.sendAck()
		l.Teardown()
		return err
	}
	if len(payload) != unlockWireLen {
		return &ProtoError{Kind: ErrWrongSizeForCommand, Link: l.name, Cmd: cmd}
	}
	if !bytes.Equal(payload[1:1+CarIDSize], d.carID[:]) {
		if werr := d.host.port.Write(carNotHappy); werr != nil {
			return werr
		}
		return &ProtoError{Kind: ErrCarIDMismatch, Link: l.name, Cmd: cmd}
	}

	banner, err := readBanner(d.eeprom, UnlockBannerLoc)
	if err != nil {
		return err
	}
	if err := d.host.port.Write(banner); err != nil {
		return err
	}
	features := payload[1+CarIDSize]
	for i := 0; i < 3; i++ {
		if features&(1<<i) == 0 {
			continue
		}
		fb, err := readBanner(d.eeprom, featureBannerLoc(i))
		if err != nil {
			return err
		}
		if err := d.host.port.Write(fb); err != nil {
			return err
		}
	}
	slog.Info("car unlocked", "features", features)
	l.Teardown()
	return nil
}
