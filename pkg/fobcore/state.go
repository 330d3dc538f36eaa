package fobcore

import (
	"fmt"
	"io"
)

// Flash is the single page backing a fob's persistent state. Commit
// discipline is erase-then-program of the full struct; there is no
// journaling, and a crash between the two calls leaves the fob unpaired.
type Flash interface {
	Read() ([]byte, error)
	Erase() error
	Program(p []byte) error
}

// Paired-flag literals as stored in flash. 0xFF doubles as the erased
// state of the page.
const (
	PairedMagic   = 0xAB
	UnpairedMagic = 0xFF
)

// fobStateSize is the packed struct padded to a 4-byte multiple:
// paired(1) pin(16) secret(16) features(1) pad(2).
const fobStateSize = 36

// FobState is a fob's persistent record: the paired flag, the stored
// encrypted PIN, the car-unlock secret, and the feature bitfield.
type FobState struct {
	Paired   byte
	Pin      [StoredPinSize]byte
	Secret   [CarSecretSize]byte
	Features byte
}

// IsPaired reports whether the stored flag carries the paired literal.
func (s *FobState) IsPaired() bool {
	return s.Paired == PairedMagic
}

func (s *FobState) marshal() []byte {
	out := make([]byte, fobStateSize)
	out[0] = s.Paired
	copy(out[1:], s.Pin[:])
	copy(out[1+StoredPinSize:], s.Secret[:])
	out[1+StoredPinSize+CarSecretSize] = s.Features
	return out
}

func (s *FobState) unmarshal(p []byte) error {
	if len(p) < fobStateSize {
		return fmt.Errorf("fob state page too short: %d bytes", len(p))
	}
	s.Paired = p[0]
	copy(s.Pin[:], p[1:])
	copy(s.Secret[:], p[1+StoredPinSize:])
	s.Features = p[1+StoredPinSize+CarSecretSize]
	return nil
}

// loadFobState reads the flash page at boot. An unprovisioned feature
// bitfield (0xFF, the erased value) is remapped to zero.
func loadFobState(f Flash) (*FobState, error) {
	page, err := f.Read()
	if err != nil {
		return nil, fmt.Errorf("read fob state: %w", err)
	}
	s := &FobState{}
	if err := s.unmarshal(page); err != nil {
		return nil, err
	}
	if s.Paired != PairedMagic {
		s.Paired = UnpairedMagic
	}
	if s.Features == 0xFF {
		s.Features = 0
	}
	return s, nil
}

// commitFobState erases the page and programs the full struct. Failures
// surface as ErrFlashCommit so the transaction layer can NACK without
// pretending the write happened.
func commitFobState(f Flash, s *FobState) error {
	if err := f.Erase(); err != nil {
		return &ProtoError{Kind: ErrFlashCommit, Cause: err}
	}
	if err := f.Program(s.marshal()); err != nil {
		return &ProtoError{Kind: ErrFlashCommit, Cause: err}
	}
	return nil
}

// Car EEPROM layout. The unlock banner sits at a fixed offset with the
// three feature banners packed in 64-byte slots below it; the two 24-byte
// provisioning AES keys live at fixed low offsets.
const (
	UnlockBannerLoc = 0x7C0
	PinKeyLoc       = 0x00
	FeatureKeyLoc   = 0x18
	ProvKeySize     = 24
)

// featureBannerLoc returns the EEPROM offset of feature banner i (0..2).
func featureBannerLoc(i int) int64 {
	return int64(UnlockBannerLoc - (i+1)*BannerSize)
}

// readBanner pulls one 64-byte banner out of the EEPROM image.
func readBanner(eeprom io.ReaderAt, off int64) ([]byte, error) {
	out := make([]byte, BannerSize)
	if _, err := eeprom.ReadAt(out, off); err != nil {
		return nil, fmt.Errorf("EEPROM read at 0x%X: %w", off, err)
	}
	return out, nil
}

// readProvKey pulls one of the two provisioning AES keys out of EEPROM.
func readProvKey(eeprom io.ReaderAt, off int64) ([]byte, error) {
	out := make([]byte, ProvKeySize)
	if _, err := eeprom.ReadAt(out, off); err != nil {
		return nil, fmt.Errorf("EEPROM key at 0x%X: %w", off, err)
	}
	return out, nil
}
