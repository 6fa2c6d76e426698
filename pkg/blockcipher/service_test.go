package blockcipher

import (
	"bytes"
	"strings"
	"testing"

	"github.com/certen/private-ledger/pkg/crypto/primitives"
)

func testBMEK(t *testing.T) []byte {
	t.Helper()
	key, err := primitives.RandomBytes(primitives.AESKeySize)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := New()
	bmek := testBMEK(t)
	plaintext := []byte("patient record #42")

	blob, err := svc.Encrypt(plaintext, bmek)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(blob, VersionBMEK+fieldSeparator) {
		t.Fatalf("expected blob to start with version prefix, got %q", blob)
	}

	got, err := svc.Decrypt(blob, bmek)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round-tripped plaintext mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongBMEKFailsGeneric(t *testing.T) {
	svc := New()
	bmek := testBMEK(t)
	wrongBMEK := testBMEK(t)

	blob, err := svc.Encrypt([]byte("secret"), bmek)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := svc.Decrypt(blob, wrongBMEK); err == nil {
		t.Fatalf("expected decryption with wrong BMEK to fail")
	}
}

func TestDecryptMalformedBlobFails(t *testing.T) {
	svc := New()
	bmek := testBMEK(t)

	if _, err := svc.Decrypt("not-a-valid-blob", bmek); err == nil {
		t.Fatalf("expected malformed blob to fail")
	}
}

func TestDecryptLegacyVersionUnsupported(t *testing.T) {
	svc := New()
	bmek := testBMEK(t)

	legacyBlob := strings.Join([]string{VersionLegacyGCM, "AAAA", "BBBB"}, fieldSeparator)
	if _, err := svc.Decrypt(legacyBlob, bmek); err == nil {
		t.Fatalf("expected legacy format to be rejected as unsupported")
	}
}

func TestEachEncryptionUsesFreshDEK(t *testing.T) {
	svc := New()
	bmek := testBMEK(t)

	blob1, _ := svc.Encrypt([]byte("same plaintext"), bmek)
	blob2, _ := svc.Encrypt([]byte("same plaintext"), bmek)
	if blob1 == blob2 {
		t.Fatalf("expected two encryptions of the same plaintext to differ (fresh DEK/IV each time)")
	}
}
