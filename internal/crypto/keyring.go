// Package crypto provides the versioned keyring used to encrypt audit event
// payload columns at rest. Data keys are derived from a single master key
// per version, so key rotation re-encrypts columns in place without any
// external key store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

type Keyring struct {
	master []byte
	active int

	mu   sync.Mutex
	keys map[int][]byte
}

// NewKeyring builds a keyring from a hex-encoded master key (32 bytes) and
// the currently active key version.
func NewKeyring(masterHex string, activeVersion int) (*Keyring, error) {
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(master) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(master))
	}
	if activeVersion < 1 {
		return nil, fmt.Errorf("key version must be >= 1, got %d", activeVersion)
	}
	return &Keyring{
		master: master,
		active: activeVersion,
		keys:   make(map[int][]byte),
	}, nil
}

func (k *Keyring) ActiveVersion() int {
	return k.active
}

// key derives (and caches) the data key for a version. Derivation is
// deterministic, so any historical version can be rebuilt on demand.
func (k *Keyring) key(version int) ([]byte, error) {
	if version < 1 {
		return nil, fmt.Errorf("invalid key version %d", version)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[version]; ok {
		return key, nil
	}
	r := hkdf.New(sha256.New, k.master, nil, []byte(fmt.Sprintf("atl-data-key-v%d", version)))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key v%d: %w", version, err)
	}
	k.keys[version] = key
	return key, nil
}

// Encrypt seals plaintext under the given key version with AES-GCM. The
// nonce is prepended to the ciphertext. Nil/empty plaintext stays nil so
// absent payload columns remain NULL.
func (k *Keyring) Encrypt(version int, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	gcm, err := k.aead(version)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt with the same key version.
func (k *Keyring) Decrypt(version int, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	gcm, err := k.aead(version)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt with key v%d: %w", version, err)
	}
	return plaintext, nil
}

func (k *Keyring) aead(version int) (cipher.AEAD, error) {
	key, err := k.key(version)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
