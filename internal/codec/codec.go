// Package codec encrypts, decrypts, and encodes individual document fields.
//
// Each text field (title, content, tag csv) is sealed independently under
// the document's content key, with the document id as AAD so a ciphertext
// cannot be replayed into another document's field.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aryanshm/foliage/internal/errs"
	"github.com/aryanshm/foliage/pkg/crypto"
)

// TagDelimiter joins tag lists into a single stored string. The storage
// layer cannot hold ordered collections as a property value.
const TagDelimiter = ","

// EncryptField seals one plaintext field under the content key.
// The result is a base64url token safe to store as a graph property.
func EncryptField(plaintext string, key crypto.Key, docID string) (string, error) {
	ciphertext, err := crypto.Encrypt(key, []byte(plaintext), []byte(docID))
	if err != nil {
		return "", fmt.Errorf("field: %w", errs.ErrEncrypt)
	}
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// DecryptField reverses EncryptField. Fails closed with ErrDecrypt on any
// tamper or key mismatch; partial plaintext never escapes.
func DecryptField(encoded string, key crypto.Key, docID string) (string, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("field: %w", errs.ErrDecrypt)
	}
	plaintext, err := crypto.Decrypt(key, ciphertext, []byte(docID))
	if err != nil {
		return "", fmt.Errorf("field: %w", errs.ErrDecrypt)
	}
	return string(plaintext), nil
}

// EncodeTags joins a tag list into its stored form. A tag containing the
// delimiter cannot round-trip, so the whole write is rejected rather than
// silently truncated.
func EncodeTags(tags []string) (string, error) {
	for _, tag := range tags {
		if strings.Contains(tag, TagDelimiter) {
			return "", fmt.Errorf("tag %q contains delimiter %q: %w", tag, TagDelimiter, errs.ErrValidation)
		}
	}
	return strings.Join(tags, TagDelimiter), nil
}

// DecodeTags splits the stored form back into a tag list.
// The result is never nil.
func DecodeTags(csv string) []string {
	if csv == "" {
		return []string{}
	}
	return strings.Split(csv, TagDelimiter)
}
