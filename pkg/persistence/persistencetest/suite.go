// Package persistencetest holds behaviour tests shared by every
// IProposalPersistence implementation.
package persistencetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/testutil"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store
type Factory func(t *testing.T) persistence.IProposalPersistence

// Run exercises the IProposalPersistence contract against stores from newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, newStore(t)) })
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, newStore(t)) })
	t.Run("SaveOverwrites", func(t *testing.T) { testSaveOverwrites(t, newStore(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { testListOrderAndFilter(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("WalletState", func(t *testing.T) { testWalletState(t, newStore(t)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newStore(t)) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, newStore(t)) })
}

func newProposal(t *testing.T, nonce types.Nonce, created time.Time) *proposal.Proposal {
	t.Helper()
	signers := testutil.CreateTestSigners(t, 3)
	p, err := proposal.New(testutil.CreateTestTransfer(nonce, 100), 2, testutil.Slots(signers), created)
	require.NoError(t, err)
	return p
}

func testSaveAndLoad(t *testing.T, store persistence.IProposalPersistence) {
	defer func() { _ = store.Close() }()
	signers := testutil.CreateTestSigners(t, 3)
	p := newProposal(t, 1, testutil.TestNow)
	testutil.SignToThreshold(t, p, signers)
	require.NoError(t, p.MarkSubmitted(types.Hash{0x11}, testutil.TestNow))

	require.NoError(t, store.SaveProposal(p))

	loaded, err := store.LoadProposal(p.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, p.ID, loaded.ID)
	assert.Equal(t, p.Digest, loaded.Digest)
	assert.Equal(t, p.Signatures, loaded.Signatures)
	assert.Equal(t, proposal.StatusSubmitted, loaded.Status)
	assert.Equal(t, p.TransactionHash, loaded.TransactionHash)
	assert.True(t, p.SubmittedAt.Equal(loaded.SubmittedAt))
	assert.Len(t, loaded.History, 1)
}

func testLoadMissing(t *testing.T, store persistence.IProposalPersistence) {
	defer func() { _ = store.Close() }()
	loaded, err := store.LoadProposal("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func testSaveOverwrites(t *testing.T, store persistence.IProposalPersistence) {
	defer func() { _ = store.Close() }()
	p := newProposal(t, 1, testutil.TestNow)
	require.NoError(t, store.SaveProposal(p))

	require.NoError(t, p.Close("discarded", testutil.TestNow))
	require.NoError(t, store.SaveProposal(p))

	loaded, err := store.LoadProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusClosed, loaded.Status)

	all, err := store.ListProposals()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testListOrderAndFilter(t *testing.T, store persistence.IProposalPersistence) {
	defer func() { _ = store.Close() }()
	var ids []string
	for i := 0; i < 4; i++ {
		// saved out of creation order
		p := newProposal(t, types.Nonce(10+i), testutil.TestNow.Add(time.Duration(3-i)*time.Minute))
		if i%2 == 0 {
			require.NoError(t, p.Close("", testutil.TestNow))
		}
		require.NoError(t, store.SaveProposal(p))
		ids = append([]string{p.ID}, ids...)
	}

	all, err := store.ListProposals()
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, p := range all {
		assert.Equal(t, ids[i], p.ID)
	}

	open, err := store.ListProposals(proposal.StatusOpen)
	require.NoError(t, err)
	assert.Len(t, open, 2)
	for _, p := range open {
		assert.Equal(t, proposal.StatusOpen, p.Status)
	}

	both, err := store.ListProposals(proposal.StatusOpen, proposal.StatusClosed)
	require.NoError(t, err)
	assert.Len(t, both, 4)

	none, err := store.ListProposals(proposal.StatusFinalized)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDelete(t *testing.T, store persistence.IProposalPersistence) {
	defer func() { _ = store.Close() }()
	p := newProposal(t, 1, testutil.TestNow)
	require.NoError(t, store.SaveProposal(p))

	require.NoError(t, store.DeleteProposal(p.ID))
	loaded, err := store.LoadProposal(p.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, store.DeleteProposal(p.ID), "delete is idempotent")
	all, err := store.ListProposals()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testWalletState(t *testing.T, store persistence.IProposalPersistence) {
	defer func() { _ = store.Close() }()
	state, err := store.LoadWalletState()
	require.NoError(t, err)
	assert.Nil(t, state, "first run has no state")

	want := &persistence.WalletState{Network: "testnet", LastReconciledAt: 1700000000, StartTime: 1699999000}
	require.NoError(t, store.SaveWalletState(want))
	got, err := store.LoadWalletState()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, store.SaveWalletState(nil))
}

func testClose(t *testing.T, store persistence.IProposalPersistence) {
	require.NoError(t, store.HealthCheck())
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")

	assert.Error(t, store.HealthCheck())
	assert.ErrorIs(t, store.SaveProposal(newProposal(t, 1, testutil.TestNow)), persistence.ErrClosed)
	_, err := store.LoadProposal("x")
	assert.ErrorIs(t, err, persistence.ErrClosed)
	_, err = store.ListProposals()
	assert.ErrorIs(t, err, persistence.ErrClosed)
	assert.ErrorIs(t, store.DeleteProposal("x"), persistence.ErrClosed)
}

func testConcurrentSaves(t *testing.T, store persistence.IProposalPersistence) {
	defer func() { _ = store.Close() }()
	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			signers := testutil.CreateTestSigners(nil, 2)
			p, err := proposal.New(testutil.CreateTestTransfer(types.Nonce(i+1), 100), 1, testutil.Slots(signers), testutil.TestNow)
			if err != nil {
				errs <- err
				return
			}
			if err := store.SaveProposal(p); err != nil {
				errs <- fmt.Errorf("save %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	all, err := store.ListProposals()
	require.NoError(t, err)
	assert.Len(t, all, n)
}
