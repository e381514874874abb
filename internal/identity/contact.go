package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
)

// ContactPrefix is the URL scheme for foliage contact cards.
const ContactPrefix = "foliage://"

// DefaultContactExpiry is how long contact cards are valid.
const DefaultContactExpiry = 24 * time.Hour

// ContactCard carries an identity's public keys for out-of-band exchange,
// signed so the receiver can verify the alias/key binding.
type ContactCard struct {
	Alias     string `json:"u"`
	Pub       string `json:"p"`
	Epub      string `json:"e"`
	CreatedAt int64  `json:"c"`
	ExpiresAt int64  `json:"x"`
	Signature []byte `json:"s"`
}

// NewContactCard builds and signs a contact card for this identity.
func NewContactCard(id *Identity, expiry time.Duration) (*ContactCard, error) {
	now := time.Now()
	card := &ContactCard{
		Alias:     id.Alias(),
		Pub:       id.Pub(),
		Epub:      id.Epub(),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(expiry).Unix(),
	}

	sig, err := id.Sign(card.signableData())
	if err != nil {
		return nil, fmt.Errorf("failed to sign contact card: %w", err)
	}
	card.Signature = sig
	return card, nil
}

// signableData returns the data that gets signed.
func (c *ContactCard) signableData() []byte {
	data := fmt.Sprintf("%s|%s|%s|%d|%d", c.Alias, c.Pub, c.Epub, c.CreatedAt, c.ExpiresAt)
	return []byte(data)
}

// Encode serializes the card to a compact string.
func (c *ContactCard) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return ContactPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// ToQRString generates an ASCII art QR code for terminal display.
func (c *ContactCard) ToQRString() (string, error) {
	encoded, err := c.Encode()
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(encoded, qrcode.Low)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// ToQR generates a QR code PNG for the card.
func (c *ContactCard) ToQR() ([]byte, error) {
	encoded, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encoded, qrcode.Low, 256)
}

// IsExpired returns true if the card has expired.
func (c *ContactCard) IsExpired() bool {
	return time.Now().Unix() > c.ExpiresAt
}

// ParseContactCard decodes and verifies a contact card string.
func ParseContactCard(s string) (*ContactCard, error) {
	if !strings.HasPrefix(s, ContactPrefix) {
		return nil, fmt.Errorf("invalid contact format: missing prefix")
	}
	data := strings.TrimPrefix(s, ContactPrefix)

	jsonData, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid contact encoding: %w", err)
	}

	var card ContactCard
	if err := json.Unmarshal(jsonData, &card); err != nil {
		return nil, fmt.Errorf("invalid contact data: %w", err)
	}

	if card.IsExpired() {
		return nil, fmt.Errorf("contact card expired")
	}

	if err := VerifyWithPub(card.Pub, card.signableData(), card.Signature); err != nil {
		return nil, err
	}

	return &card, nil
}

// Record converts a verified card into a directory record.
func (c *ContactCard) Record() Record {
	return Record{Alias: c.Alias, Pub: c.Pub, Epub: c.Epub}
}
