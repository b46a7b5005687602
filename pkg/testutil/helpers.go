package testutil

import (
	"bytes"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/stretchr/testify/require"
)

// TestNow is the fixed clock used by fixtures
var TestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestSigner is a deterministic local key bound to a signature index
type TestSigner struct {
	Index types.SignatureIndex
	Key   ed25519.PrivateKey
}

func (s TestSigner) PublicKey() ed25519.PublicKey {
	return s.Key.Public().(ed25519.PublicKey)
}

// Sign signs the proposal digest
func (s TestSigner) Sign(p *proposal.Proposal) types.Signature {
	return types.Signature{Index: s.Index, Bytes: ed25519.Sign(s.Key, p.Digest[:])}
}

// CreateTestSigners creates n signers for keys 0..n-1 of credential 0
func CreateTestSigners(t *testing.T, n int) []TestSigner {
	if t != nil && n > 255 {
		t.Fatalf("Cannot create more than 255 account signers")
	}
	signers := make([]TestSigner, n)
	for i := range signers {
		seed := bytes.Repeat([]byte{byte(i + 1)}, ed25519.SeedSize)
		signers[i] = TestSigner{
			Index: types.SignatureIndex{Key: uint16(i)},
			Key:   ed25519.NewKeyFromSeed(seed),
		}
	}
	return signers
}

// Slots converts signers to proposal slots
func Slots(signers []TestSigner) []proposal.Slot {
	slots := make([]proposal.Slot, len(signers))
	for i, s := range signers {
		slots[i] = proposal.Slot{Index: s.Index, PublicKey: s.PublicKey()}
	}
	return slots
}

// CreateTestTransfer builds a simple transfer expiring an hour after TestNow
func CreateTestTransfer(nonce types.Nonce, amount types.Amount) *codec.AccountTransaction {
	return &codec.AccountTransaction{
		Header: codec.AccountTransactionHeader{
			Sender: types.Address{0x01, 0x02},
			Nonce:  nonce,
			Energy: 501,
			Expiry: types.TimestampFromTime(TestNow.Add(time.Hour)),
		},
		Payload: codec.SimpleTransfer{To: types.Address{0x03, 0x04}, Amount: amount},
	}
}

// CreateTestProposal creates an Open transfer proposal over signers
func CreateTestProposal(t *testing.T, signers []TestSigner, threshold int, nonce types.Nonce) *proposal.Proposal {
	t.Helper()
	p, err := proposal.New(CreateTestTransfer(nonce, 100), threshold, Slots(signers), TestNow)
	require.NoError(t, err)
	return p
}

// SignToThreshold adds signatures from signers in order until the threshold is met
func SignToThreshold(t *testing.T, p *proposal.Proposal, signers []TestSigner) {
	t.Helper()
	for _, s := range signers {
		if p.ThresholdMet() {
			return
		}
		require.NoError(t, p.AddSignature(s.Sign(p), TestNow))
	}
	require.True(t, p.ThresholdMet(), "not enough signers for threshold %d", p.Threshold)
}
