package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/logger"
	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/persistence/persistencetest"
	"github.com/ccdwallet/multisig-go/pkg/testutil"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T, dir string) *BadgerPersistence {
	t.Helper()
	testLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	bp, err := NewBadgerPersistence(dir, testLogger)
	require.NoError(t, err)
	return bp
}

func TestBadgerPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IProposalPersistence {
		return newTestBadger(t, t.TempDir())
	})
}

func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	signers := testutil.CreateTestSigners(t, 2)
	p := testutil.CreateTestProposal(t, signers, 2, 3)
	require.NoError(t, p.AddSignature(signers[1].Sign(p), testutil.TestNow))

	bp := newTestBadger(t, dir)
	require.NoError(t, bp.SaveProposal(p))
	require.NoError(t, bp.SaveWalletState(&persistence.WalletState{Network: "testnet", StartTime: 1}))
	require.NoError(t, bp.Close())

	reopened := newTestBadger(t, dir)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.LoadProposal(p.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, p.Signatures, loaded.Signatures)

	state, err := reopened.LoadWalletState()
	require.NoError(t, err)
	assert.Equal(t, "testnet", state.Network)
}

func TestBadgerPersistence_SkipsCorruptRecords(t *testing.T) {
	bp := newTestBadger(t, t.TempDir())
	defer func() { _ = bp.Close() }()

	signers := testutil.CreateTestSigners(t, 1)
	require.NoError(t, bp.SaveProposal(testutil.CreateTestProposal(t, signers, 1, 1)))
	require.NoError(t, bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPrefixProposal+"broken"), []byte(`{"version":1}`))
	}))

	all, err := bp.ListProposals()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = bp.LoadProposal("broken")
	assert.Error(t, err)
}

func TestBadgerPersistence_RejectsUnknownSchema(t *testing.T) {
	dir := t.TempDir()
	bp := newTestBadger(t, dir)
	require.NoError(t, bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	}))
	require.NoError(t, bp.Close())

	testLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	_, err = NewBadgerPersistence(dir, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestNewBadgerPersistence_RelativePath(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	bp := newTestBadger(t, "data")
	defer func() { _ = bp.Close() }()
	_, err = os.Stat(filepath.Join(dir, "data"))
	assert.NoError(t, err)
}
