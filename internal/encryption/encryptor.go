// Package encryption protects mirrored archives at rest.
package encryption

import "io"

// Encryptor encrypts archive files before they leave the machine and
// unlocks the private key for retrieval.
//
// Encrypting needs only the public key. Decrypting requires Unlock with
// the user's passphrase, which yields a DecryptionContext for the
// session.
type Encryptor interface {
	// Setup generates and stores a fresh key pair, protecting the
	// private key with the passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the stored private key with the passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether a key pair is in place.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a fetch session. It is never persisted.
type DecryptionContext interface {
	// Decrypt reads ciphertext from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
