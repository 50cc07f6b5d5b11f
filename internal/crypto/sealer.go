// Package crypto seals regulator credential material for storage at rest.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MasterKeyLen is the required master key size in bytes.
const MasterKeyLen = 32

// ErrMasterKeyLen is returned when the master key is not MasterKeyLen bytes.
var ErrMasterKeyLen = errors.New("master key must be 32 bytes")

// Sealer encrypts credential fields with per-store keys derived from a single
// master key. A blob sealed for one store cannot be opened for another: the
// store id participates both in key derivation and as AAD.
type Sealer struct {
	master []byte
}

// NewSealer constructs a Sealer from a 32-byte master key.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != MasterKeyLen {
		return nil, ErrMasterKeyLen
	}
	s := &Sealer{master: make([]byte, MasterKeyLen)}
	copy(s.master, master)
	return s, nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// storeKey derives the per-store key via HKDF-SHA256 using the store id as info.
func (s *Sealer) storeKey(storeID uuid.UUID) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, nil, storeID.Bytes())
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext for a store using XChaCha20-Poly1305 with a random
// nonce. The blob layout is nonce||ciphertext.
func (s *Sealer) Seal(storeID uuid.UUID, plaintext []byte) ([]byte, error) {
	key, err := s.storeKey(storeID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, storeID.Bytes())...)
	return out, nil
}

// Open decrypts a blob previously sealed for the same store.
func (s *Sealer) Open(storeID uuid.UUID, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed blob too short")
	}
	key, err := s.storeKey(storeID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, storeID.Bytes())
}

// OpenString is Open for text fields such as tokens and client ids.
func (s *Sealer) OpenString(storeID uuid.UUID, blob []byte) (string, error) {
	b, err := s.Open(storeID, blob)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SealString is Seal for text fields.
func (s *Sealer) SealString(storeID uuid.UUID, plaintext string) ([]byte, error) {
	return s.Seal(storeID, []byte(plaintext))
}
