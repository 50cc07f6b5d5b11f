package crypto

import (
	"bytes"
	"testing"

	"github.com/gofrs/uuid/v5"
)

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := RandBytes(MasterKeyLen)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestNewSealer_KeyLength(t *testing.T) {
	t.Parallel()

	if _, err := NewSealer(make([]byte, 16)); err == nil {
		t.Fatalf("want error for short key")
	}
	if _, err := NewSealer(nil); err == nil {
		t.Fatalf("want error for nil key")
	}
	if _, err := NewSealer(make([]byte, MasterKeyLen)); err != nil {
		t.Fatalf("32-byte key must be accepted: %v", err)
	}
}

func TestSealer_Roundtrip(t *testing.T) {
	t.Parallel()

	s := newSealer(t)
	storeID := uuid.Must(uuid.NewV4())
	plain := []byte("client-secret-xyz")

	blob, err := s.Seal(storeID, plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(blob, plain) {
		t.Fatalf("blob leaks plaintext")
	}

	got, err := s.Open(storeID, blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plain)
	}
}

func TestSealer_NonceUniqueness(t *testing.T) {
	t.Parallel()

	s := newSealer(t)
	storeID := uuid.Must(uuid.NewV4())

	a, err := s.Seal(storeID, []byte("same"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := s.Seal(storeID, []byte("same"))
	if err != nil {
		t.Fatalf("Seal(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two seals of the same plaintext are identical — nonce reuse")
	}
}

func TestSealer_WrongStoreFails(t *testing.T) {
	t.Parallel()

	s := newSealer(t)
	storeA := uuid.Must(uuid.NewV4())
	storeB := uuid.Must(uuid.NewV4())

	blob, err := s.Seal(storeA, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s.Open(storeB, blob); err == nil {
		t.Fatalf("blob sealed for store A must not open for store B")
	}
}

func TestSealer_TamperDetection(t *testing.T) {
	t.Parallel()

	s := newSealer(t)
	storeID := uuid.Must(uuid.NewV4())

	blob, err := s.Seal(storeID, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	blob[len(blob)-1] ^= 0xff
	if _, err := s.Open(storeID, blob); err == nil {
		t.Fatalf("tampered blob must not open")
	}
}

func TestSealer_ShortBlob(t *testing.T) {
	t.Parallel()

	s := newSealer(t)
	if _, err := s.Open(uuid.Must(uuid.NewV4()), []byte{1, 2, 3}); err == nil {
		t.Fatalf("short blob must be rejected")
	}
}

func TestSealer_StringHelpers(t *testing.T) {
	t.Parallel()

	s := newSealer(t)
	storeID := uuid.Must(uuid.NewV4())

	blob, err := s.SealString(storeID, "tok-123")
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}
	got, err := s.OpenString(storeID, blob)
	if err != nil {
		t.Fatalf("OpenString: %v", err)
	}
	if got != "tok-123" {
		t.Fatalf("got %q", got)
	}
}
