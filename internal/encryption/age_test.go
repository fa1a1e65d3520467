package encryption

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"mmdump/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.Encryption{
		PublicKeyPath:  filepath.Join(dir, "keys", "mmdump.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "mmdump.key"),
	})
}

func TestAgeEncryptorRoundTrip(t *testing.T) {
	e := newTestAgeEncryptor(t)

	if e.IsConfigured() {
		t.Error("IsConfigured() = true before Setup")
	}
	if err := e.Setup("correct horse battery staple"); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}

	plaintext := []byte(`{"id": "p1", "message": "secret meeting notes"}`)
	var ciphertext bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Contains(ciphertext.Bytes(), []byte("secret meeting")) {
		t.Error("ciphertext contains plaintext")
	}

	dec, err := e.Unlock("correct horse battery staple")
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	var decrypted bytes.Buffer
	if err := dec.Decrypt(bytes.NewReader(ciphertext.Bytes()), &decrypted); err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(decrypted.Bytes(), plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted.Bytes(), plaintext)
	}
}

func TestAgeEncryptorWrongPassphrase(t *testing.T) {
	e := newTestAgeEncryptor(t)
	if err := e.Setup("right"); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if _, err := e.Unlock("wrong"); err == nil {
		t.Error("Unlock() succeeded with the wrong passphrase")
	}
}

func TestAgeEncryptorUnlockWithoutKeys(t *testing.T) {
	e := newTestAgeEncryptor(t)
	if _, err := e.Unlock("whatever"); err == nil {
		t.Error("Unlock() succeeded with no key pair on disk")
	}
}

func TestTestEncryptorRoundTrip(t *testing.T) {
	e := NewTestEncryptor()

	var ciphertext bytes.Buffer
	if err := e.Encrypt(strings.NewReader("payload"), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if ciphertext.String() == "payload" {
		t.Error("test encryption left the payload unchanged")
	}

	dec, err := e.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	var out bytes.Buffer
	if err := dec.Decrypt(bytes.NewReader(ciphertext.Bytes()), &out); err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if out.String() != "payload" {
		t.Errorf("Decrypt() = %q, want %q", out.String(), "payload")
	}
}

func TestTestDecryptionContextRejectsForeignData(t *testing.T) {
	dec := &TestDecryptionContext{}
	var out bytes.Buffer
	if err := dec.Decrypt(strings.NewReader("not test-encrypted data"), &out); err == nil {
		t.Error("Decrypt() accepted data without the test header")
	}
}
