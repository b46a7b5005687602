package keystore

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStore_GenerateAndGet(t *testing.T) {
	ks := NewKeyStore()
	pub, err := ks.Generate("alice")
	require.NoError(t, err)

	priv, err := ks.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, pub, priv.Public().(ed25519.PublicKey))

	_, err = ks.Generate("alice")
	assert.Error(t, err, "labels are unique")

	_, err = ks.Get("bob")
	assert.Error(t, err)
}

func TestKeyStore_Import(t *testing.T) {
	ks := NewKeyStore()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7

	pub, err := ks.Import("imported", seed)
	require.NoError(t, err)
	assert.Equal(t, ed25519.NewKeyFromSeed(seed).Public(), pub)

	_, err = ks.Import("short", []byte{1, 2})
	assert.Error(t, err)
	_, err = ks.Import("", seed)
	assert.Error(t, err)
}

func TestKeyStore_SaveLoad(t *testing.T) {
	ks := NewKeyStore()
	ks.SetScryptCost(1 << 10)
	_, err := ks.Generate("a")
	require.NoError(t, err)
	_, err = ks.Generate("b")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "wallet.json")
	require.NoError(t, ks.Save(path, "correct horse"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, loaded.Labels())
	for _, label := range ks.Labels() {
		want, _ := ks.Get(label)
		got, err := loaded.Get(label)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = Load(path, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestKeyStore_Remove(t *testing.T) {
	ks := NewKeyStore()
	_, err := ks.Generate("tmp")
	require.NoError(t, err)
	ks.Remove("tmp")
	assert.Empty(t, ks.Labels())
}
