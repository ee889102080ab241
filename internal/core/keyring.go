package core

import (
	"errors"
	"sync"

	"github.com/org/geocrypt/internal/crypto"
)

// KeyManager holds the service key-encapsulation keypair used to wrap
// per-file keys. The secret half lives in memory only; rotating it does
// not re-wrap existing files, so wrapped keys carry their own
// encapsulated material.
type KeyManager struct {
	mu sync.RWMutex
	kp *crypto.Keypair
}

// NewKeyManager generates a fresh service keypair. If the post-quantum
// primitive is unavailable the manager runs in classical mode, which
// Mode() reports so the capability is never hidden.
func NewKeyManager() (*KeyManager, error) {
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &KeyManager{kp: kp}, nil
}

// NewKeyManagerFromKeypair wraps an existing keypair, e.g. one loaded
// from persisted key material.
func NewKeyManagerFromKeypair(kp *crypto.Keypair) (*KeyManager, error) {
	if kp == nil || len(kp.Public) == 0 || len(kp.Secret) == 0 {
		return nil, errors.New("incomplete keypair")
	}
	return &KeyManager{kp: kp}, nil
}

// Mode reports which key-encapsulation primitive the service is using.
func (m *KeyManager) Mode() crypto.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kp.Mode
}

// PQCAvailable reports whether ML-KEM is in use rather than the
// classical placeholder.
func (m *KeyManager) PQCAvailable() bool {
	return m.Mode() == crypto.ModeMLKEM
}

// WrapKey encapsulates a fresh shared secret against the service public
// key and seals fileKey under the derived wrapping key. The returned
// blob is encapsulated‖sealed so it decrypts with the secret key alone.
func (m *KeyManager) WrapKey(fileKey []byte) ([]byte, error) {
	m.mu.RLock()
	kp := m.kp
	m.mu.RUnlock()

	encapsulated, shared, err := crypto.Encapsulate(kp.Mode, kp.Public)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Encrypt(fileKey, crypto.DeriveKey(shared))
	if err != nil {
		return nil, err
	}
	wrapped := make([]byte, 0, len(encapsulated)+len(sealed))
	return append(append(wrapped, encapsulated...), sealed...), nil
}

// UnwrapKey reverses WrapKey.
func (m *KeyManager) UnwrapKey(wrapped []byte) ([]byte, error) {
	m.mu.RLock()
	kp := m.kp
	m.mu.RUnlock()

	encLen := encapsulatedLen(kp.Mode)
	if len(wrapped) < encLen {
		return nil, crypto.ErrDecapsulation
	}
	shared, err := crypto.Decapsulate(kp.Mode, kp.Secret, wrapped[:encLen])
	if err != nil {
		return nil, err
	}
	return crypto.Decrypt(wrapped[encLen:], crypto.DeriveKey(shared))
}

// Rotate replaces the service keypair. Existing wrapped keys become
// unreadable through this manager; callers re-wrap before rotating.
func (m *KeyManager) Rotate() error {
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return err
	}
	m.mu.Lock()
	old := m.kp
	m.kp = kp
	m.mu.Unlock()
	for i := range old.Secret {
		old.Secret[i] = 0
	}
	return nil
}

// Keypair returns a copy of the current keypair for persistence.
func (m *KeyManager) Keypair() *crypto.Keypair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub := make([]byte, len(m.kp.Public))
	sec := make([]byte, len(m.kp.Secret))
	copy(pub, m.kp.Public)
	copy(sec, m.kp.Secret)
	return &crypto.Keypair{Mode: m.kp.Mode, Public: pub, Secret: sec}
}

// Info describes the active cryptographic configuration.
func (m *KeyManager) Info() map[string]any {
	return crypto.Info(m.Mode())
}

func encapsulatedLen(mode crypto.Mode) int {
	if mode == crypto.ModeMLKEM {
		return 1088 // ML-KEM-768 ciphertext size
	}
	return crypto.KeySize + 16
}
