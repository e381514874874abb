package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/aryanshm/foliage/pkg/crypto"
)

const IdentityFileName = "identity.json"

// FileStore persists an identity's key pairs, encrypted under a passphrase.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// identityFileStruct is the JSON structure for the identity file.
// Ciphertext wraps the serialized private key material.
type identityFileStruct struct {
	Alias      string `json:"alias"`
	Salt       string `json:"salt"`
	Ciphertext string `json:"data"`
	Params     params `json:"params"`
}

type params struct {
	Memory      uint32 `json:"mem"`
	Iterations  uint32 `json:"time"`
	Parallelism uint8  `json:"threads"`
}

// privateMaterial is what gets encrypted into the identity file.
type privateMaterial struct {
	SignPriv string `json:"sign_priv"`
	EncPriv  string `json:"enc_priv"`
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Initialize generates a fresh identity for alias, encrypts its private key
// material with the passphrase, and saves it.
func (s *FileStore) Initialize(alias string, passphrase []byte) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsInitialized() {
		return nil, fmt.Errorf("identity store already initialized")
	}

	id, err := New(alias)
	if err != nil {
		return nil, err
	}

	if err := s.writeLocked(id, passphrase); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *FileStore) writeLocked(id *Identity, passphrase []byte) error {
	signBytes, err := lcrypto.MarshalPrivateKey(id.sign)
	if err != nil {
		return fmt.Errorf("failed to marshal signing key: %w", err)
	}

	material := privateMaterial{
		SignPriv: base64.StdEncoding.EncodeToString(signBytes),
		EncPriv:  base64.StdEncoding.EncodeToString(id.enc.Private[:]),
	}
	plaintext, err := json.Marshal(material)
	if err != nil {
		return err
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}

	wrapperKey := crypto.DeriveKey(passphrase, salt)
	ciphertext, err := crypto.Encrypt(wrapperKey, plaintext, []byte(id.alias))
	if err != nil {
		return err
	}

	f := identityFileStruct{
		Alias:      id.alias,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Params: params{
			Memory:      64 * 1024,
			Iterations:  3,
			Parallelism: 2,
		},
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, IdentityFileName), data, 0600)
}

// Unlock loads the identity using the passphrase.
func (s *FileStore) Unlock(passphrase []byte) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, IdentityFileName))
	if err != nil {
		return nil, err
	}

	var f identityFileStruct
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return nil, err
	}

	wrapperKey := crypto.DeriveKey(passphrase, salt)
	plaintext, err := crypto.Decrypt(wrapperKey, ciphertext, []byte(f.Alias))
	if err != nil {
		return nil, errors.New("incorrect passphrase or corrupted identity file")
	}

	var material privateMaterial
	if err := json.Unmarshal(plaintext, &material); err != nil {
		return nil, fmt.Errorf("corrupted identity material: %w", err)
	}

	signBytes, err := base64.StdEncoding.DecodeString(material.SignPriv)
	if err != nil {
		return nil, err
	}
	sign, err := lcrypto.UnmarshalPrivateKey(signBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}

	encBytes, err := base64.StdEncoding.DecodeString(material.EncPriv)
	if err != nil {
		return nil, err
	}
	if len(encBytes) != 32 {
		return nil, errors.New("invalid encryption key size")
	}

	var encPriv [32]byte
	copy(encPriv[:], encBytes)
	// Re-derive the public half rather than trusting the file
	enc := crypto.EncryptionKeyPairFromPrivate(encPriv)

	return &Identity{alias: f.Alias, sign: sign, enc: enc}, nil
}

// IsInitialized checks if an identity file exists.
func (s *FileStore) IsInitialized() bool {
	_, err := os.Stat(filepath.Join(s.dir, IdentityFileName))
	return err == nil
}
