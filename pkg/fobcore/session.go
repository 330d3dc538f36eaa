package fobcore

// session holds one link's ephemeral key agreement state and, once the
// exchange completes, the AES context for that session. The established
// flag guards the context: it is never read while false.
type session struct {
	established bool
	initiated   bool // we sent NEW_ECDH and are waiting for RETURN_ECDH
	local       *keyPair
	iv          [IVSize]byte
	ctx         *aesCtx
}

// reset tears the session down. Clearing established logically discards
// the AES context; the key material is dropped with it.
func (s *session) reset() {
	s.established = false
	s.initiated = false
	s.local = nil
	s.ctx = nil
	s.iv = [IVSize]byte{}
}

// establish derives the shared session key from the peer's public key and
// the stored IV, and initializes the AES context.
func (s *session) establish(peerPublic []byte) error {
	key, err := s.local.sharedKey(peerPublic)
	if err != nil {
		return err
	}
	ctx, err := newAESCtx(key, s.iv[:])
	if err != nil {
		return err
	}
	s.ctx = ctx
	s.established = true
	s.initiated = false
	s.local = nil
	return nil
}
