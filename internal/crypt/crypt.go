// Package crypt implements per-principal symmetric encryption for student
// submissions. Every principal gets a lazily created AES-256 key held in an
// injected key store; blobs are sealed with AES-GCM so any tampering in the
// intermediate storage tier fails the tag check on decrypt.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nbgrade/internal/keystore"
	"nbgrade/internal/types"
)

var (
	// ErrUnknownPrincipal is returned by Decrypt when no key record exists.
	ErrUnknownPrincipal = errors.New("crypt: unknown principal")

	// ErrIntegrity is returned when a blob fails authentication or is
	// structurally invalid. Decryption fails closed: corrupt plaintext is
	// never returned.
	ErrIntegrity = errors.New("crypt: integrity check failed")
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // standard GCM nonce

	// blobVersion is the single supported blob layout:
	// magic || version || nonce || ciphertext+tag.
	blobVersion = 0x01
)

// blobMagic makes encrypted files self-describing; decrypt needs nothing
// beyond the principal's key.
var blobMagic = []byte("NBGv")

// Manager generates, stores and uses one symmetric key per principal.
type Manager struct {
	store keystore.Store
	log   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger attaches a logger; the default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager returns a Manager backed by the given key store.
func NewManager(store keystore.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		log:   zap.NewNop(),
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// principalLock serializes get-or-create per principal so two concurrent
// runs cannot race to mint two different keys for the same new student.
// First writer wins.
func (m *Manager) principalLock(principalID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[principalID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[principalID] = l
	}
	return l
}

// GetOrCreateKey returns the principal's key record, generating and
// persisting a new random key on first use. Idempotent.
func (m *Manager) GetOrCreateKey(principalID string) (types.KeyRecord, error) {
	if principalID == "" {
		return types.KeyRecord{}, fmt.Errorf("crypt: empty principal id")
	}

	l := m.principalLock(principalID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Get(principalID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return types.KeyRecord{}, fmt.Errorf("crypt: load key for %s: %w", principalID, err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return types.KeyRecord{}, fmt.Errorf("crypt: generate key: %w", err)
	}
	rec = types.KeyRecord{
		PrincipalID: principalID,
		Key:         key,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.Put(rec); err != nil {
		return types.KeyRecord{}, fmt.Errorf("crypt: persist key for %s: %w", principalID, err)
	}
	m.log.Info("generated new encryption key", zap.String("principal", principalID))
	return rec, nil
}

// Encrypt seals plaintext for the principal, creating a key if needed.
func (m *Manager) Encrypt(principalID string, plaintext []byte) ([]byte, error) {
	rec, err := m.GetOrCreateKey(principalID)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(rec.Key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypt: generate nonce: %w", err)
	}

	blob := make([]byte, 0, len(blobMagic)+1+nonceSize+len(plaintext)+aead.Overhead())
	blob = append(blob, blobMagic...)
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, nil)
	return blob, nil
}

// Decrypt opens a blob for the principal. Returns ErrUnknownPrincipal when
// no key record exists and ErrIntegrity when the blob is malformed or the
// authentication tag does not verify.
func (m *Manager) Decrypt(principalID string, blob []byte) ([]byte, error) {
	rec, err := m.store.Get(principalID)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}
	if err != nil {
		return nil, fmt.Errorf("crypt: load key for %s: %w", principalID, err)
	}

	header := len(blobMagic) + 1 + nonceSize
	if len(blob) < header || string(blob[:len(blobMagic)]) != string(blobMagic) {
		return nil, fmt.Errorf("%w: not an encrypted submission", ErrIntegrity)
	}
	if blob[len(blobMagic)] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrIntegrity, blob[len(blobMagic)])
	}

	aead, err := newAEAD(rec.Key)
	if err != nil {
		return nil, err
	}
	nonce := blob[len(blobMagic)+1 : header]
	plaintext, err := aead.Open(nil, nonce, blob[header:], nil)
	if err != nil {
		m.log.Warn("decryption failed authentication",
			zap.String("principal", principalID))
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if plaintext == nil {
		// Open returns nil for an empty plaintext; the round-trip
		// contract promises the sealed bytes back, not nil.
		plaintext = []byte{}
	}
	return plaintext, nil
}

// ExportKeys returns every known key as principal -> base64(key), the
// format synchronized out-of-band to a secret store.
func (m *Manager) ExportKeys() (map[string]string, error) {
	recs, err := m.store.List()
	if err != nil {
		return nil, fmt.Errorf("crypt: list keys: %w", err)
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		out[rec.PrincipalID] = base64.StdEncoding.EncodeToString(rec.Key)
	}
	return out, nil
}

// ImportKeys merges exported keys into the store and reports how many were
// added. A record for an already-known principal is never overwritten: a
// stale import must not be able to destroy the only key that can decrypt a
// student's existing blobs.
func (m *Manager) ImportKeys(keys map[string]string) (int, error) {
	imported := 0
	for principalID, encoded := range keys {
		l := m.principalLock(principalID)
		l.Lock()

		if _, err := m.store.Get(principalID); err == nil {
			m.log.Debug("skipping import for known principal",
				zap.String("principal", principalID))
			l.Unlock()
			continue
		} else if !errors.Is(err, keystore.ErrNotFound) {
			l.Unlock()
			return imported, fmt.Errorf("crypt: load key for %s: %w", principalID, err)
		}

		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			l.Unlock()
			return imported, fmt.Errorf("crypt: key for %s is not valid base64: %w", principalID, err)
		}
		if len(key) != keySize {
			l.Unlock()
			return imported, fmt.Errorf("crypt: key for %s has length %d, want %d", principalID, len(key), keySize)
		}

		rec := types.KeyRecord{
			PrincipalID: principalID,
			Key:         key,
			CreatedAt:   time.Now().UTC(),
		}
		if err := m.store.Put(rec); err != nil {
			l.Unlock()
			return imported, fmt.Errorf("crypt: persist key for %s: %w", principalID, err)
		}
		imported++
		l.Unlock()
	}
	m.log.Info("imported keys", zap.Int("count", imported))
	return imported, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: invalid key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypt: init AEAD: %w", err)
	}
	return aead, nil
}
