// Package crypto is the cryptographic capability module for foliage.
//
// It provides the symmetric cipher, the X25519 key agreement used by the
// sharing protocol, the identity-keyed hash used for private storage paths,
// and the password KDF protecting identity files. Callers treat these
// primitives as correct; nothing above this package touches raw cipher state.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	NonceSize = 24 // XChaCha20 nonce size
	SaltSize  = 16
)

var (
	ErrInvalidKey = errors.New("invalid key size")
	ErrDecrypt    = errors.New("decryption failed")
)

// Key represents a 32-byte symmetric key
type Key [KeySize]byte

// GenerateKey creates a new random key
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// KeyFromBytes copies b into a Key. Fails unless b is exactly KeySize bytes.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, ErrInvalidKey
	}
	copy(k[:], b)
	return k, nil
}

// DeriveKey derives a key from a password and salt using Argon2id
func DeriveKey(password, salt []byte) Key {
	var k Key
	// Argon2id parameters (OWASP recommendations)
	dk := argon2.IDKey(password, salt, 3, 64*1024, 2, KeySize)
	copy(k[:], dk)
	return k
}

// Encrypt encrypts plaintext using XChaCha20-Poly1305.
// Format: [Nonce 24][Ciphertext ...][Tag 16] (Tag is appended by Seal)
func Encrypt(key Key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt decrypts ciphertext using XChaCha20-Poly1305.
// Any tamper or key mismatch yields ErrDecrypt; no partial plaintext escapes.
func Decrypt(key Key, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrDecrypt
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	nonce := ciphertext[:NonceSize]
	encryptedMsg := ciphertext[NonceSize:]

	plaintext, err := aead.Open(nil, nonce, encryptedMsg, aad)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// GenerateSalt creates a random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// EncryptionKeyPair is an X25519 key pair used for ECDH key agreement.
// The public half is an identity's "epub".
type EncryptionKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateEncryptionKeyPair creates a new X25519 key pair
func GenerateEncryptionKeyPair() (*EncryptionKeyPair, error) {
	var private, public [32]byte

	if _, err := rand.Read(private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	// Clamp private key for X25519
	private[0] &= 248
	private[31] &= 127
	private[31] |= 64

	curve25519.ScalarBaseMult(&public, &private)

	return &EncryptionKeyPair{Private: private, Public: public}, nil
}

// EncryptionKeyPairFromPrivate reconstructs a key pair from its private
// half, re-deriving the public key.
func EncryptionKeyPairFromPrivate(private [32]byte) *EncryptionKeyPair {
	var public [32]byte
	curve25519.ScalarBaseMult(&public, &private)
	return &EncryptionKeyPair{Private: private, Public: public}
}

// DeriveSharedSecret computes the pairwise secret between our private key and
// a peer's public encryption key. Symmetric by construction:
// DeriveSharedSecret(a.Private, b.Public) == DeriveSharedSecret(b.Private, a.Public).
func DeriveSharedSecret(ownPrivate [32]byte, peerPublic [32]byte) (Key, error) {
	var k Key

	shared, err := curve25519.X25519(ownPrivate[:], peerPublic[:])
	if err != nil {
		return k, fmt.Errorf("key agreement failed: %w", err)
	}

	// Expand the raw curve point into a uniform cipher key
	h := hkdf.New(sha256.New, shared, nil, []byte("foliage-shared-secret"))
	if _, err := io.ReadFull(h, k[:]); err != nil {
		return k, fmt.Errorf("failed to derive shared key: %w", err)
	}

	return k, nil
}

// SelfKey derives the key an identity uses to encrypt data for itself,
// bound to a purpose label so distinct uses never share a key.
func SelfKey(ownPrivate [32]byte, purpose string) (Key, error) {
	var k Key
	h := hkdf.New(sha256.New, ownPrivate[:], nil, []byte("foliage-self-"+purpose))
	if _, err := io.ReadFull(h, k[:]); err != nil {
		return k, fmt.Errorf("failed to derive self key: %w", err)
	}
	return k, nil
}

// KeyedHash computes a deterministic, non-invertible token for plaintext
// under the given key. Distinct keys yield uncorrelatable tokens.
func KeyedHash(key Key, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(plaintext)
	return mac.Sum(nil)
}
