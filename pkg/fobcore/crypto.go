package fobcore

import (
	stdcrypto "crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	ecdh "github.com/wsddn/go-ecdh"
	"golang.org/x/crypto/blake2b"
)

// secp192r1 is not among the stdlib named curves, so its parameters
// (SEC 2 / NIST P-192) are supplied to the curve-generic ECDH library.
var p192 = &elliptic.CurveParams{
	Name:    "P-192",
	BitSize: 192,
	P:       mustBig("fffffffffffffffffffffffffffffffeffffffffffffffff"),
	N:       mustBig("ffffffffffffffffffffffff99def836146bc9b1b4d22831"),
	B:       mustBig("64210519e59c80e70fa7e9ab72243049feb8deecc146b9b1"),
	Gx:      mustBig("188da80eb03090f67cbf20eb43a18800f4ff0afd82ff1012"),
	Gy:      mustBig("07192b95ffc8da78631011ed6b24cdd573f977a11e794811"),
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("bad curve constant")
	}
	return n
}

// keyPair holds one side's ephemeral ECDH key for a session handshake.
type keyPair struct {
	private stdcrypto.PrivateKey
	public  [PublicKeySize]byte // raw X||Y, as carried on the wire
}

func generateKeyPair(rng io.Reader) (*keyPair, error) {
	gen := ecdh.NewEllipticECDH(p192)
	priv, pub, err := gen.GenerateKey(rng)
	if err != nil {
		return nil, fmt.Errorf("ECDH keygen: %w", err)
	}
	marshaled := gen.Marshal(pub) // 0x04 || X || Y
	if len(marshaled) != 1+PublicKeySize {
		return nil, fmt.Errorf("ECDH keygen: unexpected public size %d", len(marshaled))
	}
	kp := &keyPair{private: priv}
	copy(kp.public[:], marshaled[1:])
	return kp, nil
}

// sharedKey derives the AES-192 session key from our ephemeral secret and
// the peer's raw 48-byte public key. The shared X coordinate is left-padded
// to 24 bytes and used whole.
func (kp *keyPair) sharedKey(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != PublicKeySize {
		return nil, fmt.Errorf("ECDH: peer public must be %d bytes, got %d", PublicKeySize, len(peerPublic))
	}
	gen := ecdh.NewEllipticECDH(p192)
	point := make([]byte, 0, 1+PublicKeySize)
	point = append(point, 0x04)
	point = append(point, peerPublic...)
	pub, ok := gen.Unmarshal(point)
	if !ok {
		return nil, fmt.Errorf("ECDH: peer public not on curve")
	}
	secret, err := gen.GenerateSharedSecret(kp.private, pub)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}
	if len(secret) > SessionKeySize {
		return nil, fmt.Errorf("ECDH: shared secret too long: %d", len(secret))
	}
	key := make([]byte, SessionKeySize)
	copy(key[SessionKeySize-len(secret):], secret)
	return key, nil
}

// aesCtx is an AES-CBC context whose IV chains across calls: after every
// encrypt or decrypt the IV becomes the last ciphertext block, keeping the
// two ends of a strictly alternating link in sync.
type aesCtx struct {
	block cipher.Block
	iv    [IVSize]byte
}

func newAESCtx(key, iv []byte) (*aesCtx, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("CBC: IV must be %d bytes, got %d", IVSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	c := &aesCtx{block: block}
	copy(c.iv[:], iv)
	return c, nil
}

func (c *aesCtx) encrypt(buf []byte) error {
	if len(buf) == 0 || len(buf)%aes.BlockSize != 0 {
		return fmt.Errorf("CBC encrypt: data not block aligned")
	}
	cipher.NewCBCEncrypter(c.block, c.iv[:]).CryptBlocks(buf, buf)
	copy(c.iv[:], buf[len(buf)-aes.BlockSize:])
	return nil
}

func (c *aesCtx) decrypt(buf []byte) error {
	if len(buf) == 0 || len(buf)%aes.BlockSize != 0 {
		return fmt.Errorf("CBC decrypt: data not block aligned")
	}
	var next [IVSize]byte
	copy(next[:], buf[len(buf)-aes.BlockSize:])
	cipher.NewCBCDecrypter(c.block, c.iv[:]).CryptBlocks(buf, buf)
	c.iv = next
	return nil
}

// cbcOnce runs a single CBC operation under key with a zero IV, for the
// two provisioning records (encrypted PIN, feature blob) that are created
// once by host tooling rather than inside a session.
func cbcOnce(key, buf []byte, encrypt bool) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	if len(buf) == 0 || len(buf)%aes.BlockSize != 0 {
		return fmt.Errorf("CBC: data not block aligned")
	}
	iv := make([]byte, IVSize)
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, buf)
	}
	return nil
}

// HashPIN maps a 6-digit ASCII PIN to its 28-byte BLAKE2 digest.
func HashPIN(pin string) ([PinHashSize]byte, error) {
	var out [PinHashSize]byte
	if len(pin) != 6 {
		return out, fmt.Errorf("PIN must be 6 digits, got %d characters", len(pin))
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return out, fmt.Errorf("PIN must be numeric")
		}
	}
	h, err := blake2b.New(PinHashSize, nil)
	if err != nil {
		return out, err
	}
	h.Write([]byte(pin))
	copy(out[:], h.Sum(nil))
	return out, nil
}

// EncryptPIN produces the 32-byte encrypted PIN transported between fobs:
// the hashed PIN zero-padded to 32 bytes, encrypted under the
// PIN-Encryption Key. Host tooling calls this; fobs treat the result as
// opaque.
func EncryptPIN(pinKey []byte, hash [PinHashSize]byte) ([PinFieldSize]byte, error) {
	var out [PinFieldSize]byte
	copy(out[:], hash[:])
	if err := cbcOnce(pinKey, out[:], true); err != nil {
		return out, err
	}
	return out, nil
}

// PackageFeature builds the 48-byte encrypted feature blob for
// ENABLE_FEATURE: car_id || encrypted_pin[:16] || feature || random pad,
// under the Feature-Encryption Key. A nil rng falls back to crypto/rand.
func PackageFeature(featureKey []byte, carID [CarIDSize]byte, pin [StoredPinSize]byte, feature byte, rng io.Reader) ([FeatureBlobSize]byte, error) {
	var out [FeatureBlobSize]byte
	if feature > 2 {
		return out, fmt.Errorf("feature number must be 0..2, got %d", feature)
	}
	if rng == nil {
		rng = rand.Reader
	}
	copy(out[:CarIDSize], carID[:])
	copy(out[CarIDSize:], pin[:])
	out[CarIDSize+StoredPinSize] = feature
	if _, err := io.ReadFull(rng, out[CarIDSize+StoredPinSize+1:]); err != nil {
		return out, err
	}
	if err := cbcOnce(featureKey, out[:], true); err != nil {
		return out, err
	}
	return out, nil
}
