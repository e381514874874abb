// Package pathhash builds private storage addresses from plaintext path
// segments. Tokens are deterministic per (identity, segment) and
// non-correlatable across identities, so an observer of the raw graph
// cannot tell which categories of private data exist for whom.
package pathhash

import (
	"encoding/base64"
	"fmt"

	"github.com/aryanshm/foliage/pkg/crypto"
)

// Source supplies the identity's private key material. Implementations may
// fail with errs.ErrNotReady while crypto state is still initializing just
// after sign-in, or errs.ErrAuthRequired once the session is gone.
type Source interface {
	PrivateKeyMaterial() ([32]byte, error)
}

// Hasher hashes path segments under an identity-derived key.
type Hasher struct {
	source Source
}

// New creates a Hasher over the given key source.
func New(source Source) *Hasher {
	return &Hasher{source: source}
}

// Segment hashes one plaintext path segment into a storage token.
func (h *Hasher) Segment(segment string) (string, error) {
	priv, err := h.source.PrivateKeyMaterial()
	if err != nil {
		return "", err
	}

	key, err := crypto.SelfKey(priv, "pathHash")
	if err != nil {
		return "", fmt.Errorf("failed to derive hash key: %w", err)
	}

	token := crypto.KeyedHash(key, []byte(segment))
	return base64.RawURLEncoding.EncodeToString(token), nil
}

// Path hashes each segment in order, building a private storage address.
func (h *Hasher) Path(segments ...string) ([]string, error) {
	out := make([]string, len(segments))
	for i, seg := range segments {
		token, err := h.Segment(seg)
		if err != nil {
			return nil, err
		}
		out[i] = token
	}
	return out, nil
}
