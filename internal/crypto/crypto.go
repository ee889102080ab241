// Package crypto implements the hybrid key-encapsulation + authenticated
// encryption engine protecting file contents at rest: ML-KEM-768 for key
// exchange, AES-256-GCM for payloads, PBKDF2 to turn shared secrets into
// symmetric keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/mlkem"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// AES-256-GCM parameters. Nonce and tag are both 16 bytes and the
	// stored blob layout is nonce‖tag‖ciphertext.
	KeySize   = 32
	NonceSize = 16
	TagSize   = 16

	kdfSalt       = "geofence_file_encryption_salt"
	kdfIterations = 100000
)

// Mode identifies which key-encapsulation primitive produced a keypair or
// blob. The classical mode is a deliberately weaker placeholder; it is
// always surfaced explicitly so callers and auditors can detect degraded
// security instead of discovering it in a log line.
type Mode string

const (
	ModeMLKEM     Mode = "mlkem768"
	ModeClassical Mode = "classical"
)

// Algorithm tags stored alongside ciphertext.
const (
	AlgorithmHybridMLKEM = "hybrid-mlkem768-aes256gcm"
	AlgorithmClassical   = "classical-aes256gcm"
	AlgorithmAESGCM      = "aes256gcm"
)

// ErrDecapsulation is returned when an encapsulated key cannot be opened
// with the given secret key.
var ErrDecapsulation = errors.New("decapsulation failed")

// ErrIntegrity is returned when an authentication tag does not verify.
// No partial plaintext is ever returned alongside it.
var ErrIntegrity = errors.New("integrity check failed")

// Keypair is a key-encapsulation keypair with an explicit capability tag.
// In ML-KEM mode Secret holds the 64-byte decapsulation seed and Public the
// 1184-byte encapsulation key. In classical mode both hold the same random
// 32-byte identifier.
type Keypair struct {
	Mode   Mode
	Public []byte
	Secret []byte
}

// GenerateKeypair produces a post-quantum keypair, falling back to the
// classical placeholder if the primitive fails. The fallback is never
// silent: the Mode field records which path was taken.
func GenerateKeypair() (*Keypair, error) {
	dk, err := mlkem.GenerateKey768()
	if err != nil {
		return generateClassicalKeypair()
	}
	return &Keypair{
		Mode:   ModeMLKEM,
		Public: dk.EncapsulationKey().Bytes(),
		Secret: dk.Bytes(),
	}, nil
}

func generateClassicalKeypair() (*Keypair, error) {
	id := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, id); err != nil {
		return nil, fmt.Errorf("generating classical keypair: %w", err)
	}
	return &Keypair{Mode: ModeClassical, Public: id, Secret: id}, nil
}

// Encapsulate derives a fresh shared secret against publicKey and returns
// its transportable encapsulated form alongside it.
func Encapsulate(mode Mode, publicKey []byte) (encapsulated, shared []byte, err error) {
	if mode == ModeMLKEM {
		ek, err := mlkem.NewEncapsulationKey768(publicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing encapsulation key: %w", err)
		}
		shared, encapsulated = ek.Encapsulate()
		return encapsulated, shared, nil
	}

	// Classical placeholder: the encapsulated form is the secret itself
	// plus 16 bytes of padding.
	shared = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, shared); err != nil {
		return nil, nil, fmt.Errorf("generating shared secret: %w", err)
	}
	pad := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, pad); err != nil {
		return nil, nil, fmt.Errorf("generating padding: %w", err)
	}
	return append(append([]byte{}, shared...), pad...), shared, nil
}

// Decapsulate recovers the shared secret from its encapsulated form.
// Malformed input yields ErrDecapsulation rather than garbage.
func Decapsulate(mode Mode, secretKey, encapsulated []byte) ([]byte, error) {
	if mode == ModeMLKEM {
		dk, err := mlkem.NewDecapsulationKey768(secretKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecapsulation, err)
		}
		shared, err := dk.Decapsulate(encapsulated)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecapsulation, err)
		}
		return shared, nil
	}

	if len(encapsulated) < KeySize {
		return nil, fmt.Errorf("%w: encapsulated key too short", ErrDecapsulation)
	}
	return encapsulated[:KeySize], nil
}

// DeriveKey stretches a shared secret into an AES-256 key with PBKDF2.
// Deterministic: the same secret always yields the same key.
func DeriveKey(shared []byte) []byte {
	return pbkdf2.Key(shared, []byte(kdfSalt), kdfIterations, KeySize, sha256.New)
}

// GenerateKey produces a fresh random AES-256 key for file encryption.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns nonce‖tag‖ciphertext. A nonce is never reused with the same key.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// Seal appends the tag; reorder to the stored nonce‖tag‖ciphertext layout.
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
	blob := make([]byte, 0, NonceSize+TagSize+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	return append(blob, ct...), nil
}

// Decrypt opens a nonce‖tag‖ciphertext blob. It returns ErrIntegrity if the
// tag does not verify and never returns partial plaintext.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short", ErrIntegrity)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	ct := blob[NonceSize+TagSize:]
	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(append(sealed, ct...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// HybridBlob is the result of hybrid encryption: the encapsulated key to
// transport, the AEAD blob, and the algorithm/mode actually used.
type HybridBlob struct {
	EncapsulatedKey []byte
	Blob            []byte
	Algorithm       string
	Mode            Mode
}

// EncryptHybrid encapsulates a fresh shared secret against kp (generating a
// transient keypair when kp is nil), derives the symmetric key from it, and
// seals the plaintext. Every call produces a distinct key.
func EncryptHybrid(plaintext []byte, kp *Keypair) (*HybridBlob, error) {
	if kp == nil {
		var err error
		kp, err = GenerateKeypair()
		if err != nil {
			return nil, err
		}
	}
	encapsulated, shared, err := Encapsulate(kp.Mode, kp.Public)
	if err != nil {
		return nil, err
	}
	key := DeriveKey(shared)
	blob, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	alg := AlgorithmHybridMLKEM
	if kp.Mode == ModeClassical {
		alg = AlgorithmClassical
	}
	return &HybridBlob{EncapsulatedKey: encapsulated, Blob: blob, Algorithm: alg, Mode: kp.Mode}, nil
}

// DecryptHybrid reverses EncryptHybrid using the secret half of kp.
func DecryptHybrid(hb *HybridBlob, kp *Keypair) ([]byte, error) {
	shared, err := Decapsulate(hb.Mode, kp.Secret, hb.EncapsulatedKey)
	if err != nil {
		return nil, err
	}
	return Decrypt(hb.Blob, DeriveKey(shared))
}

// KeyToString encodes key material for persistence.
func KeyToString(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// KeyFromString decodes key material encoded by KeyToString.
func KeyFromString(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Info describes the cryptographic configuration for the admin surface.
func Info(mode Mode) map[string]any {
	alg := "ML-KEM-768"
	if mode != ModeMLKEM {
		alg = "none"
	}
	return map[string]any{
		"pqc_available":        mode == ModeMLKEM,
		"pqc_algorithm":        alg,
		"symmetric_encryption": "AES-256-GCM",
		"mode":                 "hybrid (KEM key exchange + AES symmetric)",
		"aes_key_size":         KeySize * 8,
		"nonce_size":           NonceSize * 8,
		"tag_size":             TagSize * 8,
		"kdf":                  fmt.Sprintf("PBKDF2-SHA256 with %d iterations", kdfIterations),
	}
}
