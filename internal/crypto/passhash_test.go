package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/and161185/pinlock/internal/errs"
)

// cheap parameters keep the suite fast; the algorithm is the same
var testParams = Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestNewSalt_AtLeast128Bits(t *testing.T) {
	t.Parallel()

	s, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if len(s)*8 < 128 {
		t.Fatalf("salt has %d bits, want >= 128", len(s)*8)
	}
	if bytes.Equal(s, make([]byte, len(s))) {
		t.Fatalf("NewSalt returned all zeros")
	}
}

func TestValidateSecret(t *testing.T) {
	t.Parallel()

	good := []string{"1234", "000000", "abcDEF123456", "pin9"}
	for _, s := range good {
		if err := ValidateSecret(s); err != nil {
			t.Fatalf("ValidateSecret(%q): %v", s, err)
		}
	}

	bad := []string{"", "123", "1234567890123", "12 34", "12-34", "pïn1", "1234\n"}
	for _, s := range bad {
		err := ValidateSecret(s)
		if !errors.Is(err, errs.ErrInvalidFormat) {
			t.Fatalf("ValidateSecret(%q): want ErrInvalidFormat, got %v", s, err)
		}
	}
}

func TestHash_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	h := NewHasher(testParams)
	salt := []byte("NaCl-16-bytes?!!")

	h1 := h.Hash("1234", salt)
	h2 := h.Hash("1234", salt)
	if len(h1) != 32 {
		t.Fatalf("digest len=%d, want 32", len(h1))
	}
	if !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}

	if bytes.Equal(h1, h.Hash("1234", []byte("another-salt----"))) {
		t.Fatalf("hash should differ when salt differs")
	}
	if bytes.Equal(h1, h.Hash("12345", salt)) {
		t.Fatalf("hash should differ when secret differs")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	h := NewHasher(testParams)
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	digest := h.Hash("4321", salt)

	if !h.Verify("4321", salt, digest) {
		t.Fatalf("Verify: expected true for correct secret")
	}
	if h.Verify("4322", salt, digest) {
		t.Fatalf("Verify: expected false for wrong secret")
	}
	if h.Verify("", salt, digest) {
		t.Fatalf("Verify: expected false for empty secret")
	}
}

func TestVerify_TamperedSaltOrDigest(t *testing.T) {
	t.Parallel()

	h := NewHasher(testParams)
	salt, _ := NewSalt()
	digest := h.Hash("4321", salt)

	badSalt := append([]byte(nil), salt...)
	badSalt[0] ^= 0xff
	if h.Verify("4321", badSalt, digest) {
		t.Fatalf("Verify: expected false for tampered salt")
	}

	badDigest := append([]byte(nil), digest...)
	badDigest[len(badDigest)-1] ^= 0x01
	if h.Verify("4321", salt, badDigest) {
		t.Fatalf("Verify: expected false for tampered digest")
	}

	if h.Verify("4321", salt, digest[:16]) {
		t.Fatalf("Verify: expected false for truncated digest")
	}
	if h.Verify("4321", nil, digest) {
		t.Fatalf("Verify: expected false for missing salt")
	}
}

func TestNewHasher_ZeroParamsUseDefaults(t *testing.T) {
	t.Parallel()

	h := NewHasher(Params{})
	if h.p != DefaultParams {
		t.Fatalf("params=%+v, want %+v", h.p, DefaultParams)
	}
}
