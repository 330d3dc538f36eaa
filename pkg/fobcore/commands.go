package fobcore

import "fmt"

// Command bytes for the fob protocol. The command is always the first
// payload byte of a frame. NEW_ECDH and RETURN_ECDH travel in cleartext;
// every other command is padded to a 16-byte multiple and encrypted under
// the link session.
const (
	CmdNewECDH           = 0xAB // 48-byte public key + 16-byte IV
	CmdReturnECDH        = 0xE0 // 48-byte public key
	CmdPairPairedEnter   = 0x4D // no body
	CmdPairUnpairedStart = 0x50 // 32-byte encrypted PIN
	CmdGetSecret         = 0x47 // 32-byte encrypted PIN
	CmdReturnSecret      = 0x52 // 16-byte car secret
	CmdEnableFeature     = 0x45 // 48-byte feature blob
	CmdUnlockCar         = 0x55 // 16-byte car secret + 1-byte feature bitfield
	CmdAck               = 0x41 // no body
	CmdNack              = 0xAA // no body
)

// Fixed sizes on the wire and in persistent storage.
const (
	PublicKeySize   = 48 // raw X||Y on secp192r1
	PrivateKeySize  = 24
	SessionKeySize  = 24 // ECDH shared secret, used whole as an AES-192 key
	IVSize          = 16
	PinHashSize     = 28 // BLAKE2 digest of the ASCII PIN
	PinFieldSize    = 32 // encrypted PIN as transported
	StoredPinSize   = 16 // encrypted PIN as stored on a paired fob
	CarIDSize       = 16
	CarSecretSize   = 16
	FeatureBlobSize = 48
	BannerSize      = 64
)

// Cleartext handshake payload lengths, command byte included.
const (
	newECDHPayloadLen    = 1 + PublicKeySize + IVSize
	returnECDHPayloadLen = 1 + PublicKeySize
)

// Encrypted commands are validated against their padded wire length; the
// pre-padding length is unrecoverable after random fill.
const (
	pairStartWireLen    = 48 // 1 + 32, padded
	getSecretWireLen    = 48 // 1 + 32, padded
	returnSecretWireLen = 32 // 1 + 16, padded
	unlockWireLen       = 32 // 1 + 16 + 1, padded
	enableWireLen       = 64 // 1 + 48, padded
)

// commandName returns a short human-readable name for log output.
func commandName(cmd byte) string {
	switch cmd {
	case CmdNewECDH:
		return "NEW_ECDH"
	case CmdReturnECDH:
		return "RETURN_ECDH"
	case CmdPairPairedEnter:
		return "PAIR_PAIRED_ENTER"
	case CmdPairUnpairedStart:
		return "PAIR_UNPAIRED_START"
	case CmdGetSecret:
		return "GET_SECRET"
	case CmdReturnSecret:
		return "RETURN_SECRET"
	case CmdEnableFeature:
		return "ENABLE_FEATURE"
	case CmdUnlockCar:
		return "UNLOCK_CAR"
	case CmdAck:
		return "ACK"
	case CmdNack:
		return "NACK"
	default:
		return fmt.Sprintf("0x%02X", cmd)
	}
}

// isHandshakeCmd reports whether cmd is one of the two commands exchanged
// in cleartext during session establishment.
func isHandshakeCmd(cmd byte) bool {
	return cmd == CmdNewECDH || cmd == CmdReturnECDH
}

// padTo16 returns n rounded up to the next multiple of 16.
func padTo16(n int) int {
	return (n + 15) &^ 15
}
