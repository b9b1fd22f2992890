// Package crypto wraps the ed25519 primitives used to sign and verify
// transactions. Keys and signatures travel as raw bytes; every decode path
// returns a typed error instead of panicking on malformed input.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

var (
	ErrBadKey           = errors.New("malformed key bytes")
	ErrBadSignature     = errors.New("malformed signature bytes")
	ErrSignatureInvalid = errors.New("signature verification failed")
)

type PrivateKey struct {
	key ed25519.PrivateKey
}

type PublicKey struct {
	key ed25519.PublicKey
}

// GenerateKey produces a fresh ed25519 keypair. This is the only routine in
// the package that consumes randomness.
func GenerateKey() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return PrivateKey{key: priv}, PublicKey{key: pub}, nil
}

func PrivateKeyFromBytes(data []byte) (PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return PrivateKey{}, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrBadKey, PrivateKeySize, len(data))
	}
	k := make(ed25519.PrivateKey, PrivateKeySize)
	copy(k, data)
	return PrivateKey{key: k}, nil
}

func PublicKeyFromBytes(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrBadKey, PublicKeySize, len(data))
	}
	k := make(ed25519.PublicKey, PublicKeySize)
	copy(k, data)
	return PublicKey{key: k}, nil
}

func (p PrivateKey) Bytes() []byte {
	out := make([]byte, PrivateKeySize)
	copy(out, p.key)
	return out
}

func (p PrivateKey) Public() PublicKey {
	return PublicKey{key: p.key.Public().(ed25519.PublicKey)}
}

// Sign signs msg and returns the 64-byte signature. Signing is deterministic
// for a given key and message.
func (p PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(p.key, msg)
}

func (p PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, p.key)
	return out
}

func (p PublicKey) Equal(other PublicKey) bool {
	return p.key.Equal(other.key)
}

// Verify checks sig over msg against the key. A wrong-length signature is
// reported as malformed rather than merely invalid.
func (p PublicKey) Verify(msg, sig []byte) error {
	if len(p.key) != PublicKeySize {
		return ErrBadKey
	}
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: signature must be %d bytes, got %d", ErrBadSignature, SignatureSize, len(sig))
	}
	if !ed25519.Verify(p.key, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
