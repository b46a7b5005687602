package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/ledger/emulator"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/signer"
	"github.com/ccdwallet/multisig-go/pkg/signer/deviceSigner"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestCluster is a set of co-signers, each holding an emulated hardware
// device with an open session
type TestCluster struct {
	Devices   []*emulator.Device
	Sessions  []*ledger.Session
	Signers   map[types.SignatureIndex]signer.ISigner
	Slots     []proposal.Slot
	Threshold int
}

// NewTestCluster creates numDevices emulated devices. Device i signs for
// key i of credential 0 with the key at AccountPath(0, 0, i).
func NewTestCluster(t *testing.T, numDevices, threshold int) *TestCluster {
	t.Helper()
	c := &TestCluster{
		Signers:   make(map[types.SignatureIndex]signer.ISigner, numDevices),
		Threshold: threshold,
	}
	for i := 0; i < numDevices; i++ {
		dev := emulator.New([]byte(fmt.Sprintf("co-signer %d", i)))
		session := ledger.NewSession(dev.Opener(), time.Second, zap.NewNop())
		require.NoError(t, session.Open(context.Background()))
		t.Cleanup(func() { _ = session.Close() })

		path := ledger.AccountPath(0, 0, uint32(i))
		s, err := deviceSigner.NewDeviceSigner(session, path, zap.NewNop())
		require.NoError(t, err)

		index := types.SignatureIndex{Key: uint16(i)}
		c.Devices = append(c.Devices, dev)
		c.Sessions = append(c.Sessions, session)
		c.Signers[index] = s
		c.Slots = append(c.Slots, proposal.Slot{
			Index:     index,
			PublicKey: dev.PublicKey(path),
			Label:     fmt.Sprintf("device %d", i),
		})
	}
	return c
}

// NewProposal creates an Open transfer proposal over the cluster's slots
func (c *TestCluster) NewProposal(t *testing.T, nonce types.Nonce) *proposal.Proposal {
	t.Helper()
	p, err := proposal.New(CreateTestTransfer(nonce, 100), c.Threshold, c.Slots, TestNow)
	require.NoError(t, err)
	return p
}
