package persistence

import (
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalProposal_RoundTrip(t *testing.T) {
	signers := testutil.CreateTestSigners(t, 2)
	original := testutil.CreateTestProposal(t, signers, 2, 7)
	require.NoError(t, original.AddSignature(signers[0].Sign(original), testutil.TestNow))

	data, err := MarshalProposal(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	restored, err := UnmarshalProposal(data)
	require.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Unsigned, restored.Unsigned)
	assert.Equal(t, original.Signatures, restored.Signatures)
	assert.Equal(t, original.Status, restored.Status)
}

func TestMarshalProposal_NilInput(t *testing.T) {
	_, err := MarshalProposal(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil Proposal")
}

func TestUnmarshalProposal_InvalidJSON(t *testing.T) {
	_, err := UnmarshalProposal([]byte(`{"version": "not a number"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")

	_, err = UnmarshalProposal(nil)
	assert.Error(t, err)
}

func TestWalletState_RoundTrip(t *testing.T) {
	original := &WalletState{Network: "mainnet", LastReconciledAt: 42, StartTime: 7}
	data, err := MarshalWalletState(original)
	require.NoError(t, err)

	restored, err := UnmarshalWalletState(data)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	_, err = MarshalWalletState(nil)
	assert.Error(t, err)
}

func TestMatchesStatus(t *testing.T) {
	p := &proposal.Proposal{Status: proposal.StatusSubmitted}
	assert.True(t, MatchesStatus(p, nil))
	assert.True(t, MatchesStatus(p, []proposal.Status{proposal.StatusOpen, proposal.StatusSubmitted}))
	assert.False(t, MatchesStatus(p, []proposal.Status{proposal.StatusOpen}))
}
