package crypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbgrade/internal/keystore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(keystore.NewMemory())
}

func TestGetOrCreateKey(t *testing.T) {
	t.Run("creates a key on first use", func(t *testing.T) {
		m := newTestManager(t)
		rec, err := m.GetOrCreateKey("alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", rec.PrincipalID)
		assert.Len(t, rec.Key, 32)
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("is idempotent", func(t *testing.T) {
		m := newTestManager(t)
		first, err := m.GetOrCreateKey("alice")
		require.NoError(t, err)
		second, err := m.GetOrCreateKey("alice")
		require.NoError(t, err)
		assert.Equal(t, first.Key, second.Key)
	})

	t.Run("distinct principals get distinct keys", func(t *testing.T) {
		m := newTestManager(t)
		a, err := m.GetOrCreateKey("alice")
		require.NoError(t, err)
		b, err := m.GetOrCreateKey("bob")
		require.NoError(t, err)
		assert.NotEqual(t, a.Key, b.Key)
	})

	t.Run("rejects empty principal", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.GetOrCreateKey("")
		assert.Error(t, err)
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := newTestManager(t)

	payloads := [][]byte{
		[]byte("hello"),
		{},
		[]byte(`{"cells": []}`),
		{0x00, 0xff, 0x10, 0x80},
	}
	for _, plaintext := range payloads {
		blob, err := m.Encrypt("alice", plaintext)
		require.NoError(t, err)
		if len(plaintext) > 0 {
			assert.NotContains(t, string(blob), string(plaintext))
		}

		got, err := m.Decrypt("alice", blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	t.Run("unknown principal", func(t *testing.T) {
		m := newTestManager(t)
		blob, err := m.Encrypt("alice", []byte("data"))
		require.NoError(t, err)

		_, err = m.Decrypt("nobody", blob)
		assert.ErrorIs(t, err, ErrUnknownPrincipal)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		m := newTestManager(t)
		blob, err := m.Encrypt("alice", []byte("an honest submission"))
		require.NoError(t, err)

		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[len(tampered)-1] ^= 0x01

		_, err = m.Decrypt("alice", tampered)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("truncated blob", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.GetOrCreateKey("alice")
		require.NoError(t, err)

		_, err = m.Decrypt("alice", []byte("short"))
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("wrong principal's key", func(t *testing.T) {
		m := newTestManager(t)
		blob, err := m.Encrypt("alice", []byte("data"))
		require.NoError(t, err)
		_, err = m.GetOrCreateKey("bob")
		require.NoError(t, err)

		_, err = m.Decrypt("bob", blob)
		assert.ErrorIs(t, err, ErrIntegrity)
	})
}

func TestExportImport(t *testing.T) {
	t.Run("round-trips through export", func(t *testing.T) {
		src := newTestManager(t)
		blob, err := src.Encrypt("alice", []byte("submission"))
		require.NoError(t, err)

		exported, err := src.ExportKeys()
		require.NoError(t, err)
		require.Len(t, exported, 1)

		dst := newTestManager(t)
		imported, err := dst.ImportKeys(exported)
		require.NoError(t, err)
		assert.Equal(t, 1, imported)

		plain, err := dst.Decrypt("alice", blob)
		require.NoError(t, err)
		assert.Equal(t, []byte("submission"), plain)
	})

	t.Run("never overwrites an existing key", func(t *testing.T) {
		m := newTestManager(t)
		blob, err := m.Encrypt("alice", []byte("old data"))
		require.NoError(t, err)

		other := newTestManager(t)
		_, err = other.GetOrCreateKey("alice")
		require.NoError(t, err)
		stale, err := other.ExportKeys()
		require.NoError(t, err)

		imported, err := m.ImportKeys(stale)
		require.NoError(t, err)
		assert.Equal(t, 0, imported)

		// The original key still decrypts the original blob.
		plain, err := m.Decrypt("alice", blob)
		require.NoError(t, err)
		assert.Equal(t, []byte("old data"), plain)
	})

	t.Run("rejects malformed keys", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.ImportKeys(map[string]string{"alice": "not base64!!"})
		assert.Error(t, err)

		_, err = m.ImportKeys(map[string]string{"bob": "c2hvcnQ="}) // wrong length
		assert.Error(t, err)
	})
}
