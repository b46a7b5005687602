package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/ledger/emulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransport_AgainstEmulator(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	dev := emulator.New([]byte("tcp seed"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dev.Serve(ctx, ln, zap.NewNop()) }()

	opener := func(ctx context.Context) (ledger.Transport, error) {
		return Dial(ctx, ln.Addr().String())
	}
	s := ledger.NewSession(opener, 2*time.Second, zap.NewNop())
	require.NoError(t, s.Open(ctx))
	defer func() { _ = s.Close() }()

	path := ledger.AccountPath(1, 0, 0)
	pub, err := s.GetPublicKey(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, dev.PublicKey(path), pub)
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr)
	assert.Error(t, err)
}
