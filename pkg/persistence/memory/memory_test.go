package memory

import (
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/persistence/persistencetest"
	"github.com/ccdwallet/multisig-go/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IProposalPersistence {
		return NewMemoryPersistence()
	})
}

func TestMemoryPersistence_NoSharedState(t *testing.T) {
	m := NewMemoryPersistence()
	signers := testutil.CreateTestSigners(t, 2)
	p := testutil.CreateTestProposal(t, signers, 2, 1)
	require.NoError(t, m.SaveProposal(p))

	// mutating the caller's copy must not reach the store
	require.NoError(t, p.AddSignature(signers[0].Sign(p), testutil.TestNow))

	loaded, err := m.LoadProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.SignatureCount())
}
