package core

import (
	"bytes"
	"testing"

	"github.com/org/geocrypt/internal/crypto"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	m, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}

	fileKey, _ := crypto.GenerateKey()
	wrapped, err := m.WrapKey(fileKey)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	got, err := m.UnwrapKey(wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey failed: %v", err)
	}
	if !bytes.Equal(got, fileKey) {
		t.Error("unwrapped key does not match original")
	}
}

func TestUnwrapAfterRotateFails(t *testing.T) {
	m, _ := NewKeyManager()
	fileKey, _ := crypto.GenerateKey()
	wrapped, _ := m.WrapKey(fileKey)

	if err := m.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if _, err := m.UnwrapKey(wrapped); err == nil {
		t.Error("expected unwrap to fail after rotation")
	}
}

func TestUnwrapTruncated(t *testing.T) {
	m, _ := NewKeyManager()
	if _, err := m.UnwrapKey([]byte("way too short")); err == nil {
		t.Error("expected error for truncated wrapped key")
	}
}

func TestKeypairPersistRestore(t *testing.T) {
	m, _ := NewKeyManager()
	fileKey, _ := crypto.GenerateKey()
	wrapped, _ := m.WrapKey(fileKey)

	restored, err := NewKeyManagerFromKeypair(m.Keypair())
	if err != nil {
		t.Fatalf("NewKeyManagerFromKeypair failed: %v", err)
	}
	got, err := restored.UnwrapKey(wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey on restored manager failed: %v", err)
	}
	if !bytes.Equal(got, fileKey) {
		t.Error("restored manager unwrapped a different key")
	}
}

func TestModeReported(t *testing.T) {
	m, _ := NewKeyManager()
	if m.Mode() != crypto.ModeMLKEM && m.Mode() != crypto.ModeClassical {
		t.Errorf("unexpected mode %q", m.Mode())
	}
	info := m.Info()
	if _, ok := info["pqc_available"]; !ok {
		t.Error("info should report pqc availability")
	}
}
