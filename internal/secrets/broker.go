// Package secrets implements the secret broker: encrypted
// credential storage keyed by (name, scope[, agentId]), resolved with
// agent-overrides-global precedence and AEAD-protected at rest.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/haasonsaas/mozi/pkg/models"
)

// ErrSecretNotFound is returned by GetValue when no record resolves
// for the requested (name, agentId, scope).
var ErrSecretNotFound = errors.New("secrets: secret not found")

// ErrMasterKeyNotSet is returned when the configured master key
// environment variable is unset or empty.
var ErrMasterKeyNotSet = errors.New("secrets: master key environment variable is not set")

// Broker is the Secret Broker. It persists records to a single JSON file;
// values are never held in memory unencrypted beyond the scope of a
// Set/GetValue call.
type Broker struct {
	mu              sync.RWMutex
	storePath       string
	masterKeyEnvVar string
	records         map[string]*models.Secret // recordKey -> record
}

// NewBroker opens (creating if absent) a secret broker backed by
// storePath, using masterKeyEnvVar (default MOZI_MASTER_KEY) to locate
// the AEAD master key at encrypt/decrypt time.
func NewBroker(storePath, masterKeyEnvVar string) (*Broker, error) {
	if masterKeyEnvVar == "" {
		masterKeyEnvVar = "MOZI_MASTER_KEY"
	}
	b := &Broker{
		storePath:       storePath,
		masterKeyEnvVar: masterKeyEnvVar,
		records:         map[string]*models.Secret{},
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) load() error {
	data, err := os.ReadFile(b.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var records map[string]*models.Secret
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("secrets: corrupt store: %w", err)
	}
	b.records = records
	return nil
}

// persistLocked writes the store atomically. Callers must hold b.mu.
func (b *Broker) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(b.storePath), 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(b.records, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.storePath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, b.storePath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// recordKey derives the map key for a (scope, agentId, name) triple. Global
// secrets ignore agentId.
func recordKey(scope models.SecretScope, agentID, name string) string {
	if scope == models.SecretScopeAgent {
		return fmt.Sprintf("agent:%s:%s", agentID, name)
	}
	return fmt.Sprintf("global:%s", name)
}

// masterKey derives a 32-byte AEAD key from the configured environment
// variable's raw value via SHA-256, so the operator-supplied secret need
// not itself be exactly 32 bytes.
func (b *Broker) masterKey() ([]byte, error) {
	raw := os.Getenv(b.masterKeyEnvVar)
	if raw == "" {
		return nil, ErrMasterKeyNotSet
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:], nil
}

func (b *Broker) aead() (cipher.AEAD, error) {
	key, err := b.masterKey()
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}

// Set encrypts value and stores it under (name, scope[, agentId]).
// actor is accepted for audit-log symmetry but is not yet persisted; a
// future audit trail component would consume it.
func (b *Broker) Set(name, value string, scope models.SecretScope, agentID string, actor string) error {
	aead, err := b.aead()
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secrets: failed to generate nonce: %w", err)
	}

	ad := []byte(string(scope) + ":" + agentID + ":" + name)
	ciphertext := aead.Seal(nil, nonce, []byte(value), ad)

	b.mu.Lock()
	defer b.mu.Unlock()

	key := recordKey(scope, agentID, name)
	now := time.Now().UTC()
	record := &models.Secret{
		Name:       name,
		Scope:      scope,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if scope == models.SecretScopeAgent {
		record.AgentID = agentID
	}
	if existing, ok := b.records[key]; ok {
		record.CreatedAt = existing.CreatedAt
	}
	b.records[key] = record
	return b.persistLocked()
}

// Unset removes the record at (name, scope[, agentId]). It is a no-op if
// no such record exists.
func (b *Broker) Unset(name string, scope models.SecretScope, agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, recordKey(scope, agentID, name))
	return b.persistLocked()
}

// List returns metadata for every record, optionally filtered to one
// scope. Ciphertext/nonce are included (already opaque
// at rest) but values are never decrypted.
func (b *Broker) List(scope *models.SecretScope) []*models.Secret {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.Secret, 0, len(b.records))
	for _, rec := range b.records {
		if scope != nil && rec.Scope != *scope {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// resolveLocked finds the effective record for (name, agentId, scope):
// if scope is supplied, only that exact scope is consulted; otherwise the
// agent scope is preferred over global. Callers must hold b.mu (read or
// write).
func (b *Broker) resolveLocked(name, agentID string, scope *models.SecretScope) (string, *models.Secret, bool) {
	if scope != nil {
		key := recordKey(*scope, agentID, name)
		rec, ok := b.records[key]
		return key, rec, ok
	}
	if agentID != "" {
		if rec, ok := b.records[recordKey(models.SecretScopeAgent, agentID, name)]; ok {
			return recordKey(models.SecretScopeAgent, agentID, name), rec, true
		}
	}
	key := recordKey(models.SecretScopeGlobal, "", name)
	rec, ok := b.records[key]
	return key, rec, ok
}

// Check reports whether a secret resolves for (name, agentId, scope)
// without decrypting it.
func (b *Broker) Check(name, agentID string, scope *models.SecretScope) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, _, ok := b.resolveLocked(name, agentID, scope)
	return ok
}

// GetValue resolves and decrypts the effective secret for (name, agentId,
// scope), stamping lastUsedAt on success.
func (b *Broker) GetValue(name, agentID string, scope *models.SecretScope) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, rec, ok := b.resolveLocked(name, agentID, scope)
	if !ok {
		return "", ErrSecretNotFound
	}

	aead, err := b.aead()
	if err != nil {
		return "", err
	}
	ad := []byte(string(rec.Scope) + ":" + rec.AgentID + ":" + rec.Name)
	plaintext, err := aead.Open(nil, rec.Nonce, rec.Ciphertext, ad)
	if err != nil {
		return "", fmt.Errorf("secrets: failed to decrypt %s: %w", name, err)
	}

	now := time.Now().UTC()
	rec.LastUsedAt = &now
	b.records[key] = rec
	if err := b.persistLocked(); err != nil {
		return "", err
	}

	return string(plaintext), nil
}
