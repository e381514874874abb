// Package identity manages user key pairs, sessions, and discovery.
//
// An identity carries two key pairs: an Ed25519 signing pair whose public
// half names the identity's namespaces, and an X25519 encryption pair whose
// public half ("epub") feeds ECDH key agreement in the sharing protocol.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	lcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/aryanshm/foliage/pkg/crypto"
)

// Identity is one user's key material. Private halves never leave this
// package except through the passphrase-protected identity file.
type Identity struct {
	alias string
	sign  lcrypto.PrivKey
	enc   *crypto.EncryptionKeyPair
}

// New generates a fresh identity for the given alias.
func New(alias string) (*Identity, error) {
	if alias == "" {
		return nil, fmt.Errorf("alias must not be empty")
	}

	sign, _, err := lcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	enc, err := crypto.GenerateEncryptionKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	return &Identity{alias: alias, sign: sign, enc: enc}, nil
}

// Alias returns the identity's chosen username.
func (id *Identity) Alias() string { return id.alias }

// Pub returns the public signing key as a storage-address token.
func (id *Identity) Pub() string {
	b, err := lcrypto.MarshalPublicKey(id.sign.GetPublic())
	if err != nil {
		// Ed25519 public keys always marshal
		panic(fmt.Sprintf("identity: marshal public key: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Epub returns the public encryption key, the ECDH input peers use.
func (id *Identity) Epub() string {
	return base64.RawURLEncoding.EncodeToString(id.enc.Public[:])
}

// EncPrivate exposes the private encryption key to the key managers.
func (id *Identity) EncPrivate() [32]byte { return id.enc.Private }

// Sign signs data under the identity's signing key.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	return id.sign.Sign(data)
}

// ParseEpub decodes a peer's public encryption key token.
func ParseEpub(epub string) ([32]byte, error) {
	var out [32]byte
	b, err := base64.RawURLEncoding.DecodeString(epub)
	if err != nil {
		return out, fmt.Errorf("invalid epub encoding: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("invalid epub length %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// VerifyWithPub verifies a signature against a marshaled public signing key token.
func VerifyWithPub(pub string, data, sig []byte) error {
	raw, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		return fmt.Errorf("invalid pub encoding: %w", err)
	}
	key, err := lcrypto.UnmarshalPublicKey(raw)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	ok, err := key.Verify(data, sig)
	if err != nil || !ok {
		return fmt.Errorf("invalid signature")
	}
	return nil
}
