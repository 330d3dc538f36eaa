package fobcore

import (
	"bytes"
	"testing"
)

func TestECDHAgreement(t *testing.T) {
	rng := newLCG(7)
	a, err := generateKeyPair(rng)
	if err != nil {
		t.Fatalf("keypair A: %v", err)
	}
	b, err := generateKeyPair(rng)
	if err != nil {
		t.Fatalf("keypair B: %v", err)
	}
	if len(a.public) != PublicKeySize {
		t.Fatalf("public key size %d", len(a.public))
	}

	keyA, err := a.sharedKey(b.public[:])
	if err != nil {
		t.Fatalf("shared A: %v", err)
	}
	keyB, err := b.sharedKey(a.public[:])
	if err != nil {
		t.Fatalf("shared B: %v", err)
	}
	if !bytes.Equal(keyA, keyB) {
		t.Fatalf("shared secrets differ")
	}
	if len(keyA) != SessionKeySize {
		t.Fatalf("session key size %d, want %d", len(keyA), SessionKeySize)
	}
}

func TestECDHRejectsBadPublic(t *testing.T) {
	rng := newLCG(9)
	kp, err := generateKeyPair(rng)
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	if _, err := kp.sharedKey(make([]byte, 16)); err == nil {
		t.Fatalf("short public key accepted")
	}
	if _, err := kp.sharedKey(make([]byte, PublicKeySize)); err == nil {
		t.Fatalf("off-curve public key accepted")
	}
}

func TestCBCChainedRoundTrip(t *testing.T) {
	key := make([]byte, SessionKeySize)
	iv := make([]byte, IVSize)
	newLCG(3).Read(key)
	newLCG(4).Read(iv)

	enc, err := newAESCtx(key, iv)
	if err != nil {
		t.Fatalf("enc ctx: %v", err)
	}
	dec, err := newAESCtx(key, iv)
	if err != nil {
		t.Fatalf("dec ctx: %v", err)
	}

	// Two frames in sequence: decryption only works if both ends chain
	// the IV identically across frames.
	for frame := 0; frame < 2; frame++ {
		plain := make([]byte, 48)
		newLCG(uint32(20 + frame)).Read(plain)
		buf := make([]byte, len(plain))
		copy(buf, plain)
		if err := enc.encrypt(buf); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if bytes.Equal(buf, plain) {
			t.Fatalf("ciphertext equals plaintext")
		}
		if err := dec.decrypt(buf); err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(buf, plain) {
			t.Fatalf("frame %d did not round-trip", frame)
		}
	}
}

func TestCBCRejectsUnaligned(t *testing.T) {
	key := make([]byte, SessionKeySize)
	ctx, err := newAESCtx(key, make([]byte, IVSize))
	if err != nil {
		t.Fatalf("ctx: %v", err)
	}
	if err := ctx.encrypt(make([]byte, 17)); err == nil {
		t.Fatalf("unaligned encrypt accepted")
	}
	if err := ctx.decrypt(nil); err == nil {
		t.Fatalf("empty decrypt accepted")
	}
}

func TestHashPIN(t *testing.T) {
	h1, err := HashPIN("123456")
	if err != nil {
		t.Fatalf("HashPIN: %v", err)
	}
	h2, err := HashPIN("123456")
	if err != nil {
		t.Fatalf("HashPIN: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic")
	}
	h3, _ := HashPIN("123457")
	if h1 == h3 {
		t.Fatalf("distinct PINs hash equal")
	}

	if _, err := HashPIN("12345"); err == nil {
		t.Fatalf("5-digit PIN accepted")
	}
	if _, err := HashPIN("12345a"); err == nil {
		t.Fatalf("non-numeric PIN accepted")
	}
}

func TestEncryptPINRoundTrip(t *testing.T) {
	pinKey := make([]byte, ProvKeySize)
	newLCG(5).Read(pinKey)
	hash, err := HashPIN("314159")
	if err != nil {
		t.Fatalf("HashPIN: %v", err)
	}
	field, err := EncryptPIN(pinKey, hash)
	if err != nil {
		t.Fatalf("EncryptPIN: %v", err)
	}

	buf := make([]byte, PinFieldSize)
	copy(buf, field[:])
	if err := cbcOnce(pinKey, buf, false); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(buf[:PinHashSize], hash[:]) {
		t.Fatalf("encrypted PIN does not decrypt to the hash")
	}
}

func TestPackageFeatureRoundTrip(t *testing.T) {
	featureKey := make([]byte, ProvKeySize)
	newLCG(6).Read(featureKey)
	var carID [CarIDSize]byte
	var pin [StoredPinSize]byte
	newLCG(7).Read(carID[:])
	newLCG(8).Read(pin[:])

	blob, err := PackageFeature(featureKey, carID, pin, 2, newLCG(9))
	if err != nil {
		t.Fatalf("PackageFeature: %v", err)
	}
	buf := make([]byte, FeatureBlobSize)
	copy(buf, blob[:])
	if err := cbcOnce(featureKey, buf, false); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(buf[:CarIDSize], carID[:]) {
		t.Fatalf("car ID field mismatch")
	}
	if !bytes.Equal(buf[CarIDSize:CarIDSize+StoredPinSize], pin[:]) {
		t.Fatalf("PIN field mismatch")
	}
	if buf[CarIDSize+StoredPinSize] != 2 {
		t.Fatalf("feature byte mismatch")
	}

	if _, err := PackageFeature(featureKey, carID, pin, 3, newLCG(9)); err == nil {
		t.Fatalf("feature 3 accepted")
	}
}
