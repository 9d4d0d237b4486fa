// Package xcrypto provides the opaque signing primitive referenced by
// spec §9 ("treat real signatures as an opaque byte string produced by a
// signing primitive; the Byzantine-fault check compares bytes, not
// structure"). The teacher's source used a mock "sig_<signer>_<hash>"
// string; this module replaces it with real ECDSA P-256 signing, grounded
// in the teacher's crypto/keys.go, while keeping the contract the rest of
// the module relies on — Sign/Verify over opaque []byte — identical either
// way.
package xcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // grounded in teacher's address_utils.go
)

var (
	ErrKeyGeneration = errors.New("key generation failed")
	ErrSigning       = errors.New("signing failed")
	ErrVerification  = errors.New("signature verification failed")
)

// KeyPair wraps an ECDSA P-256 keypair, mirroring the teacher's
// crypto/keys.go GenerateECDSAKeyPair.
type KeyPair struct {
	Private *ecdsa.PrivateKey
}

// GenerateKeyPair creates a new ECDSA P-256 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return &KeyPair{Private: priv}, nil
}

// PublicKeyBytes returns the uncompressed marshaled public key.
func (k *KeyPair) PublicKeyBytes() []byte {
	return elliptic.Marshal(elliptic.P256(), k.Private.PublicKey.X, k.Private.PublicKey.Y)
}

// Sign produces an opaque signature over msg (expected to be a frame hash
// or other canonical digest). The Byzantine double-sign check in
// internal/consensus compares these bytes directly, per spec §9.
func (k *KeyPair) Sign(msg []byte) ([]byte, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, k.Private, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

// Verify checks sig over msg against a raw uncompressed public key.
func Verify(pubKeyBytes, msg, sig []byte) (bool, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), pubKeyBytes)
	if x == nil {
		return false, fmt.Errorf("%w: invalid public key bytes", ErrVerification)
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	return ecdsa.VerifyASN1(pub, msg, sig), nil
}

// DeriveAddress derives a short address from a raw public key as
// RIPEMD160(SHA256(pubKey)), following the teacher's
// crypto/address_utils.go HashPublicKey scheme.
func DeriveAddress(pubKeyBytes []byte) ([]byte, error) {
	if len(pubKeyBytes) == 0 {
		return nil, fmt.Errorf("%w: empty public key", ErrVerification)
	}
	sha := sha256.Sum256(pubKeyBytes)
	h := ripemd160.New()
	if _, err := h.Write(sha[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	return h.Sum(nil), nil
}
