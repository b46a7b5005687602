package tests

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/ledger/emulator"
	"github.com/ccdwallet/multisig-go/pkg/ledger/transport/tcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Device is an emulated hardware wallet reached over the TCP transport
type Device struct {
	*emulator.Device
	Addr    string
	Session *ledger.Session
}

// StartDevice serves an emulator on a loopback port and opens a session to
// it. Both are torn down when the test ends.
func StartDevice(t *testing.T, seed string) *Device {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	dev := emulator.New([]byte(seed))
	go func() { _ = dev.Serve(ctx, ln, zap.NewNop()) }()

	addr := ln.Addr().String()
	opener := func(ctx context.Context) (ledger.Transport, error) {
		return tcp.Dial(ctx, addr)
	}
	session := ledger.NewSession(opener, 2*time.Second, zap.NewNop())
	require.NoError(t, session.Open(ctx))
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
	})
	return &Device{Device: dev, Addr: addr, Session: session}
}
