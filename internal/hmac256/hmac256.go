// Package hmac256 implements the streaming, key-padded HMAC-SHA256 that
// the S4PP protocol engine uses to sign an upload sequence incrementally
// as its payload is built, rather than over a complete buffer after the
// fact. It transcribes app/modules/s4pp.c's
// make_hmac_pad/init_hmac/update_hmac/append_final_hmac_hex onto
// crypto/sha256, since neither crypto/hmac nor any HMAC package in the
// retrieved corpus exposes a start-now/feed-later/finalize-later API.
package hmac256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

const blockSize = sha256.BlockSize // 64

// Streaming is a keyed HMAC-SHA256 whose inner hash can be fed
// incrementally across multiple calls, with the outer finalization
// (pad + inner digest) deferred until FinalHex.
type Streaming struct {
	innerPad [blockSize]byte
	outerPad [blockSize]byte
	inner    hash.Hash
}

// New derives K' from key (SHA-256(key) if longer than one block, key
// itself zero-padded otherwise) and stores the inner/outer pads, matching
// make_hmac_pad.
func New(key []byte) *Streaming {
	kPrime := make([]byte, blockSize)
	if len(key) > blockSize {
		sum := sha256.Sum256(key)
		copy(kPrime, sum[:])
	} else {
		copy(kPrime, key)
	}

	s := &Streaming{}
	for i := 0; i < blockSize; i++ {
		s.innerPad[i] = kPrime[i] ^ 0x36
		s.outerPad[i] = kPrime[i] ^ 0x5c
	}
	s.inner = sha256.New()
	s.inner.Write(s.innerPad[:])
	return s
}

// StartSequence resets the inner hash to just after the pad and feeds it
// token, matching init_hmac followed by the token write that seeds each
// new sequence's signature.
func (s *Streaming) StartSequence(token []byte) {
	s.inner = sha256.New()
	s.inner.Write(s.innerPad[:])
	s.inner.Write(token)
}

// Write feeds p into the inner hash, to be called as each byte is
// appended to the outgoing send buffer, never after it has been sent.
// It never fails.
func (s *Streaming) Write(p []byte) (int, error) {
	return s.inner.Write(p)
}

// FinalHex finalizes the signature over everything written since the
// last StartSequence: inner_digest = SHA-256(inner state); result =
// hex(SHA-256(outer_pad || inner_digest)), matching append_final_hmac_hex.
// It does not mutate the receiver, so a caller inspecting a signature
// speculatively does not disturb an in-progress sequence.
func (s *Streaming) FinalHex() string {
	innerDigest := s.inner.Sum(nil)
	outer := sha256.New()
	outer.Write(s.outerPad[:])
	outer.Write(innerDigest)
	return hex.EncodeToString(outer.Sum(nil))
}
