package emulator

import (
	"encoding/hex"
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateKey_SLIP10Vectors(t *testing.T) {
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	dev := New(seed)

	tests := []struct {
		path ledger.Path
		key  string
	}{
		{ledger.Path{}, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7"},
		{ledger.Path{0x80000000}, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.key, hex.EncodeToString(dev.PrivateKey(tt.path).Seed()), tt.path.String())
	}
}

func TestDevice_KeysDependOnPath(t *testing.T) {
	dev := New([]byte("seed"))
	a := dev.PublicKey(ledger.AccountPath(0, 0, 0))
	b := dev.PublicKey(ledger.AccountPath(0, 0, 1))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, New([]byte("seed")).PublicKey(ledger.AccountPath(0, 0, 0)))
}

func TestDevice_UnknownInstruction(t *testing.T) {
	dev := New([]byte("seed"))
	c := dev.Connect()
	defer func() { _ = c.Close() }()

	apdu, err := ledger.Command{Ins: ledger.Instruction(0x7F)}.Encode()
	require.NoError(t, err)
	raw, err := c.Exchange(apdu)
	require.NoError(t, err)
	resp, err := ledger.DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, swInsUnsupported, resp.Status)
}

func TestDevice_ContinuationWithoutStart(t *testing.T) {
	dev := New([]byte("seed"))
	c := dev.Connect()
	defer func() { _ = c.Close() }()

	apdu, err := ledger.Command{
		Ins:  ledger.InsSignAccountTransaction,
		P1:   ledger.P1Continuation,
		P2:   ledger.P2Last,
		Data: []byte{1},
	}.Encode()
	require.NoError(t, err)
	raw, err := c.Exchange(apdu)
	require.NoError(t, err)
	resp, err := ledger.DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, swInvalidState, resp.Status)
}

func TestConn_ClosedExchangeFails(t *testing.T) {
	dev := New([]byte("seed"))
	c := dev.Connect()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Exchange([]byte{0xE0, 0x03, 0, 0, 0})
	assert.ErrorIs(t, err, ErrClosed)
}
