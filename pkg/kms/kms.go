// Package kms manages the keys that protect raw provider payloads and PII
// at rest. Keys are versioned AES-256-GCM; rotation adds a new active key
// while old versions remain available for decryption. Raw key bytes never
// leave the manager.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cleargate/vantage/pkg/faults"
)

// Sealed is an encrypted payload tagged with the key version that sealed
// it, so rotation never strands old rows.
type Sealed struct {
	KeyVersion int    `json:"key_version"`
	Ciphertext []byte `json:"ciphertext"` // nonce || gcm output
}

// Manager encrypts and decrypts payloads with versioned keys.
type Manager interface {
	Seal(plaintext []byte) (Sealed, error)
	Open(s Sealed) ([]byte, error)
	Rotate() (version int, err error)
	ActiveVersion() int
}

// LocalManager holds keys in process memory. Production deployments load
// the initial key material from a secrets source and hand it here; the
// manager is the only holder afterwards.
type LocalManager struct {
	mu     sync.RWMutex
	active int
	keys   map[int][]byte
}

// NewLocalManager seeds a manager with the given 32-byte key as version 1.
// A nil key generates a fresh random one.
func NewLocalManager(key []byte) (*LocalManager, error) {
	if key == nil {
		key = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("kms: generate key: %w", err)
		}
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("kms: key must be 32 bytes, got %d", len(key))
	}
	return &LocalManager{
		active: 1,
		keys:   map[int][]byte{1: key},
	}, nil
}

// ActiveVersion returns the current sealing key version.
func (m *LocalManager) ActiveVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Rotate generates a new active key. Previous versions stay resident for
// decryption only.
func (m *LocalManager) Rotate() (int, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return 0, fmt.Errorf("kms: generate key: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
	m.keys[m.active] = key
	return m.active, nil
}

// Seal encrypts plaintext with the active key.
func (m *LocalManager) Seal(plaintext []byte) (Sealed, error) {
	m.mu.RLock()
	version := m.active
	key := m.keys[version]
	m.mu.RUnlock()

	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("kms: nonce: %w", err)
	}
	// Key version is bound as additional data so a ciphertext cannot be
	// replayed under a different version tag.
	var ad [4]byte
	binary.BigEndian.PutUint32(ad[:], uint32(version))
	out := gcm.Seal(nonce, nonce, plaintext, ad[:])
	return Sealed{KeyVersion: version, Ciphertext: out}, nil
}

// Open decrypts a sealed payload with the version that sealed it. A
// missing key version or failed authentication is a DataIntegrity fault:
// the caller discards the row and refreshes from the provider.
func (m *LocalManager) Open(s Sealed) ([]byte, error) {
	m.mu.RLock()
	key, ok := m.keys[s.KeyVersion]
	m.mu.RUnlock()
	if !ok {
		return nil, faults.New(faults.KindDataIntegrity, "kms.open",
			fmt.Sprintf("unknown key version %d", s.KeyVersion))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(s.Ciphertext) < gcm.NonceSize() {
		return nil, faults.New(faults.KindDataIntegrity, "kms.open", "ciphertext too short")
	}
	nonce, rest := s.Ciphertext[:gcm.NonceSize()], s.Ciphertext[gcm.NonceSize():]
	var ad [4]byte
	binary.BigEndian.PutUint32(ad[:], uint32(s.KeyVersion))
	plaintext, err := gcm.Open(nil, nonce, rest, ad[:])
	if err != nil {
		return nil, faults.Wrap(faults.KindDataIntegrity, "kms.open", "decryption failed", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	return gcm, nil
}
