package ledger_test

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/ledger/emulator"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func unsignedTransfer(t *testing.T) []byte {
	t.Helper()
	b, err := codec.Serialize(&codec.AccountTransaction{
		Header:  codec.AccountTransactionHeader{Nonce: 1, Energy: 501, Expiry: 2_000_000_000},
		Payload: codec.TransferWithMemo{Memo: make([]byte, 200), Amount: 10},
	})
	require.NoError(t, err)
	return b
}

func openSession(t *testing.T, dev *emulator.Device, deadline time.Duration) *ledger.Session {
	t.Helper()
	s := ledger.NewSession(dev.Opener(), deadline, zap.NewNop())
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_OpenAndVersion(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := ledger.NewSession(dev.Opener(), time.Second, zap.NewNop())
	assert.Equal(t, ledger.StateDisconnected, s.State())

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, ledger.StateReady, s.State())
	v, ok := s.Version()
	assert.True(t, ok)
	assert.Equal(t, ledger.Version{Major: 1, Minor: 2, Patch: 0}, v)

	assert.Error(t, s.Open(context.Background()), "opening twice must fail")

	require.NoError(t, s.Close())
	assert.Equal(t, ledger.StateDisconnected, s.State())
}

func TestSession_OpenFailsWhenAppClosed(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	dev.FailNext(0x6E01)
	s := ledger.NewSession(dev.Opener(), time.Second, zap.NewNop())

	err := s.Open(context.Background())
	var devErr *ledger.DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, ledger.CategoryCompatibility, devErr.Category)
	assert.Equal(t, ledger.StateDisconnected, s.State())
}

func TestSession_GetPublicKeyCached(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, time.Second)
	path := ledger.AccountPath(0, 0, 1)

	pub, err := s.GetPublicKey(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, dev.PublicKey(path), pub)

	before := len(dev.Commands())
	again, err := s.GetPublicKey(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, pub, again)
	assert.Len(t, dev.Commands(), before, "cached key must not hit the device")
}

func TestSession_SignAccountTransaction(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, time.Second)
	path := ledger.AccountPath(0, 0, 0)
	unsigned := unsignedTransfer(t)

	sig, err := s.SignAccountTransaction(context.Background(), path, unsigned)
	require.NoError(t, err)

	digest := sha256.Sum256(unsigned)
	assert.True(t, ed25519.Verify(dev.PublicKey(path), digest[:], sig))
	assert.Equal(t, ledger.StateReady, s.State())

	// path frame plus two data frames for a 303 byte transaction
	var signFrames int
	for _, c := range dev.Commands() {
		if c.Ins == ledger.InsSignAccountTransaction {
			signFrames++
		}
	}
	assert.Equal(t, 3, signFrames)
}

func TestSession_DeclineIsCancellation(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, time.Second)
	dev.DeclineNext()

	_, err := s.SignAccountTransaction(context.Background(), ledger.AccountPath(0, 0, 0), unsignedTransfer(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUserDeclined))
	assert.True(t, types.IsCancellation(err))
	assert.Equal(t, ledger.StateReady, s.State())
}

func TestSession_LockedIsRetryable(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, time.Second)
	dev.SetLocked(true)

	_, err := s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 0))
	var devErr *ledger.DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, ledger.CategoryLocked, devErr.Category)
	assert.True(t, types.IsRetryable(err))

	dev.SetLocked(false)
	_, err = s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 0))
	assert.NoError(t, err)
}

func TestSession_InvalidTransactionRejected(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, time.Second)

	_, err := s.SignAccountTransaction(context.Background(), ledger.AccountPath(0, 0, 0), []byte{1, 2, 3})
	var devErr *ledger.DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, ledger.CategoryInvalidInput, devErr.Category)
	assert.Equal(t, uint16(0x6B04), devErr.Code)
}

func TestSession_BusyRejectsSecondCommand(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, 5*time.Second)
	dev.Hold()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = s.SignAccountTransaction(context.Background(), ledger.AccountPath(0, 0, 0), unsignedTransfer(t))
	}()

	require.Eventually(t, func() bool { return s.State() == ledger.StateBusy }, time.Second, 5*time.Millisecond)

	_, err := s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 9))
	assert.True(t, errors.Is(err, types.ErrDeviceBusy))
	assert.True(t, types.IsRetryable(err))

	dev.Release()
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, ledger.StateReady, s.State())
}

func TestSession_TimeoutLeavesSessionBusyUntilReset(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, 50*time.Millisecond)
	dev.Hold()

	_, err := s.SignAccountTransaction(context.Background(), ledger.AccountPath(0, 0, 0), unsignedTransfer(t))
	var timeoutErr *types.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.True(t, types.IsRetryable(err))

	// the abandoned command still owns the device
	assert.Equal(t, ledger.StateBusy, s.State())
	_, err = s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 1))
	assert.True(t, errors.Is(err, types.ErrDeviceBusy))

	require.NoError(t, s.Reset())
	assert.Equal(t, ledger.StateDisconnected, s.State())
	dev.Release()

	require.NoError(t, s.Open(context.Background()))
	_, err = s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 1))
	assert.NoError(t, err)
}

func TestSession_AbandonedCommandFinishes(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, 50*time.Millisecond)
	dev.Hold()

	_, err := s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 0))
	var timeoutErr *types.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))

	dev.Release()
	require.Eventually(t, func() bool { return s.State() == ledger.StateReady }, time.Second, 5*time.Millisecond)
}

func TestSession_ContextCancelled(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := openSession(t, dev, 5*time.Second)
	dev.Hold()
	defer dev.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetPublicKey(ctx, ledger.AccountPath(0, 0, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_NotConnected(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	s := ledger.NewSession(dev.Opener(), time.Second, zap.NewNop())

	_, err := s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 0))
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
}

func TestSession_UpdateSigningNeedsRecentApp(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	dev.SetVersion(ledger.Version{Major: 0, Minor: 9, Patch: 4})
	s := openSession(t, dev, time.Second)

	unsigned, err := codec.Serialize(&codec.UpdateInstruction{
		Header:  codec.UpdateHeader{SequenceNumber: 1, Timeout: 100},
		Payload: codec.BakerStakeThresholdUpdate{Threshold: 1},
	})
	require.NoError(t, err)

	_, err = s.SignUpdateInstruction(context.Background(), ledger.GovernancePath(ledger.GovernanceLevel2, 0), unsigned)
	assert.ErrorIs(t, err, ledger.ErrIncompatibleApp)

	dev.SetVersion(ledger.Version{Major: 1, Minor: 0, Patch: 0})
	require.NoError(t, s.Close())
	require.NoError(t, s.Open(context.Background()))
	path := ledger.GovernancePath(ledger.GovernanceLevel2, 0)
	sig, err := s.SignUpdateInstruction(context.Background(), path, unsigned)
	require.NoError(t, err)
	digest := codec.Digest(unsigned)
	assert.True(t, ed25519.Verify(dev.PublicKey(path), digest[:], sig))
}

type failingTransport struct {
	inner ledger.Transport
	calls int
}

func (f *failingTransport) Exchange(apdu []byte) ([]byte, error) {
	f.calls++
	if f.calls > 1 {
		return nil, errors.New("usb device unplugged")
	}
	return f.inner.Exchange(apdu)
}

func (f *failingTransport) Close() error { return f.inner.Close() }

func TestSession_TransportFailureDisconnects(t *testing.T) {
	dev := emulator.New([]byte("seed"))
	opener := func(ctx context.Context) (ledger.Transport, error) {
		return &failingTransport{inner: dev.Connect()}, nil
	}
	s := ledger.NewSession(opener, time.Second, zap.NewNop())
	require.NoError(t, s.Open(context.Background()))

	_, err := s.GetPublicKey(context.Background(), ledger.AccountPath(0, 0, 0))
	var devErr *ledger.DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, ledger.CategoryTransport, devErr.Category)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, ledger.StateDisconnected, s.State())
}

// stickyTransport ignores Close so a held command outlives its connection
type stickyTransport struct {
	inner ledger.Transport
}

func (s *stickyTransport) Exchange(apdu []byte) ([]byte, error) { return s.inner.Exchange(apdu) }

func (s *stickyTransport) Close() error { return nil }

func TestSession_KeyFromPreviousConnectionNotCached(t *testing.T) {
	first := emulator.New([]byte("first device"))
	second := emulator.New([]byte("second device"))
	var mu sync.Mutex
	current := first
	opener := func(ctx context.Context) (ledger.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		return &stickyTransport{inner: current.Connect()}, nil
	}
	s := ledger.NewSession(opener, 5*time.Second, zap.NewNop())
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	path := ledger.AccountPath(0, 0, 3)
	first.Hold()
	var wg sync.WaitGroup
	wg.Add(1)
	var stale ed25519.PublicKey
	var staleErr error
	go func() {
		defer wg.Done()
		stale, staleErr = s.GetPublicKey(context.Background(), path)
	}()
	require.Eventually(t, func() bool { return s.State() == ledger.StateBusy }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Reset())
	mu.Lock()
	current = second
	mu.Unlock()
	require.NoError(t, s.Open(context.Background()))

	first.Release()
	wg.Wait()
	require.NoError(t, staleErr)
	assert.Equal(t, first.PublicKey(path), stale)

	pub, err := s.GetPublicKey(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, second.PublicKey(path), pub)
}
