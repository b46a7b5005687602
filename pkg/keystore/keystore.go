package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	fileVersion = 1

	// DefaultScryptN is the scrypt cost used for new key files
	DefaultScryptN = 1 << 15
	scryptR        = 8
	scryptP        = 1
	saltSize       = 32
	nonceSize      = 24
)

// ErrWrongPassphrase is returned when a key file cannot be decrypted
var ErrWrongPassphrase = fmt.Errorf("wrong passphrase or corrupted key file")

// KeyStore holds ed25519 signing keys by label and provides thread-safe access
type KeyStore struct {
	mu sync.RWMutex

	keys    map[string]ed25519.PrivateKey
	scryptN int
}

// NewKeyStore creates an empty key store
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys:    make(map[string]ed25519.PrivateKey),
		scryptN: DefaultScryptN,
	}
}

// SetScryptCost changes the scrypt N parameter used by Save
func (ks *KeyStore) SetScryptCost(n int) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.scryptN = n
}

// Generate creates a fresh key under label
func (ks *KeyStore) Generate(label string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := ks.add(label, priv); err != nil {
		return nil, err
	}
	return pub, nil
}

// Import stores the key derived from a 32 byte ed25519 seed under label
func (ks *KeyStore) Import(label string, seed []byte) (ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if err := ks.add(label, priv); err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

func (ks *KeyStore) add(label string, priv ed25519.PrivateKey) error {
	if label == "" {
		return fmt.Errorf("key label must not be empty")
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, ok := ks.keys[label]; ok {
		return fmt.Errorf("key %q already exists", label)
	}
	ks.keys[label] = priv
	return nil
}

// Get returns the key stored under label
func (ks *KeyStore) Get(label string) (ed25519.PrivateKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	priv, ok := ks.keys[label]
	if !ok {
		return nil, fmt.Errorf("no key with label %q", label)
	}
	return priv, nil
}

// Labels returns every label in sorted order
func (ks *KeyStore) Labels() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	labels := make([]string, 0, len(ks.keys))
	for l := range ks.keys {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Remove deletes the key stored under label
func (ks *KeyStore) Remove(label string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.keys, label)
}

type scryptParams struct {
	N    int           `json:"n"`
	R    int           `json:"r"`
	P    int           `json:"p"`
	Salt hexutil.Bytes `json:"salt"`
}

type keyFile struct {
	Version    int           `json:"version"`
	KDF        scryptParams  `json:"kdf"`
	Nonce      hexutil.Bytes `json:"nonce"`
	Ciphertext hexutil.Bytes `json:"ciphertext"`
}

// Save encrypts every key with a passphrase derived secretbox key and
// writes the result to path
func (ks *KeyStore) Save(path, passphrase string) error {
	ks.mu.RLock()
	seeds := make(map[string]hexutil.Bytes, len(ks.keys))
	for label, priv := range ks.keys {
		seeds[label] = priv.Seed()
	}
	n := ks.scryptN
	ks.mu.RUnlock()

	plaintext, err := json.Marshal(seeds)
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	kf := keyFile{
		Version: fileVersion,
		KDF:     scryptParams{N: n, R: scryptR, P: scryptP, Salt: make([]byte, saltSize)},
		Nonce:   make([]byte, nonceSize),
	}
	if _, err := rand.Read(kf.KDF.Salt); err != nil {
		return fmt.Errorf("failed to read salt: %w", err)
	}
	if _, err := rand.Read(kf.Nonce); err != nil {
		return fmt.Errorf("failed to read nonce: %w", err)
	}
	key, err := deriveKey(passphrase, kf.KDF)
	if err != nil {
		return err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], kf.Nonce)
	kf.Ciphertext = secretbox.Seal(nil, plaintext, &nonce, key)

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// Load reads and decrypts a key file written by Save
func Load(path, passphrase string) (*KeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	if kf.Version != fileVersion {
		return nil, fmt.Errorf("unsupported key file version %d", kf.Version)
	}
	if len(kf.Nonce) != nonceSize {
		return nil, fmt.Errorf("key file nonce has %d bytes", len(kf.Nonce))
	}
	key, err := deriveKey(passphrase, kf.KDF)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], kf.Nonce)
	plaintext, ok := secretbox.Open(nil, kf.Ciphertext, &nonce, key)
	if !ok {
		return nil, ErrWrongPassphrase
	}

	var seeds map[string]hexutil.Bytes
	if err := json.Unmarshal(plaintext, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted keys: %w", err)
	}
	ks := NewKeyStore()
	ks.scryptN = kf.KDF.N
	for label, seed := range seeds {
		if _, err := ks.Import(label, seed); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

func deriveKey(passphrase string, p scryptParams) (*[32]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), p.Salt, p.N, p.R, p.P, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
