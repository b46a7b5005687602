package ledger

import (
	"errors"
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_EncodeDecode(t *testing.T) {
	cmd := Command{Ins: InsGetPublicKey, P1: P1First, P2: P2Last, Data: []byte{1, 2, 3}}
	apdu, err := cmd.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE0, 0x01, 0x00, 0x01, 0x03, 1, 2, 3}, apdu)

	decoded, err := DecodeCommand(apdu)
	require.NoError(t, err)
	assert.Equal(t, cmd, decoded)

	_, err = Command{Ins: InsGetVersion, Data: make([]byte, MaxFrameData+1)}.Encode()
	assert.Error(t, err)

	_, err = DecodeCommand([]byte{0xE0, 0x01, 0x00, 0x00, 0x05, 1})
	assert.Error(t, err)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte{0xAB, 0x90, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB}, resp.Data)
	assert.Equal(t, StatusOK, resp.Status)

	assert.Equal(t, []byte{0x69, 0x85}, EncodeResponse(nil, 0x6985))

	_, err = DecodeResponse([]byte{0x90})
	assert.Error(t, err)
}

func TestSigningFrames_Chunking(t *testing.T) {
	path := AccountPath(0, 0, 0)
	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i)
	}

	frames, err := signingFrames(InsSignAccountTransaction, path, payload)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	encodedPath, err := path.Encode()
	require.NoError(t, err)
	assert.Equal(t, Command{Ins: InsSignAccountTransaction, P1: P1First, P2: P2More, Data: encodedPath}, frames[0])

	var joined []byte
	for i, f := range frames[1:] {
		assert.Equal(t, P1Continuation, f.P1)
		assert.LessOrEqual(t, len(f.Data), MaxFrameData)
		if i == 2 {
			assert.Equal(t, P2Last, f.P2)
		} else {
			assert.Equal(t, P2More, f.P2)
		}
		joined = append(joined, f.Data...)
	}
	assert.Equal(t, payload, joined)
	assert.Len(t, frames[3].Data, 90)

	_, err = signingFrames(InsSignAccountTransaction, path, nil)
	assert.Error(t, err)
}

func TestLookupStatus_Table(t *testing.T) {
	tests := []struct {
		code     uint16
		category Category
	}{
		{0x6985, CategoryDeclined},
		{0x6B01, CategoryCompatibility},
		{0x6B02, CategoryInvalidInput},
		{0x6B03, CategoryInvalidInput},
		{0x6B04, CategoryInvalidInput},
		{0x6D00, CategoryCompatibility},
		{0x6E00, CategoryCompatibility},
		{0x6E01, CategoryCompatibility},
		{0x5515, CategoryLocked},
		{0x6A80, CategoryInvalidInput},
		{0x1234, CategoryUnknown},
		{0xFFFF, CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.category, LookupStatus(tt.code).Category, "status %#04x", tt.code)
	}
}

func TestRegisterStatus(t *testing.T) {
	const code uint16 = 0x6F42
	assert.Equal(t, CategoryUnknown, LookupStatus(code).Category)

	RegisterStatus(code, StatusInfo{Message: "firmware busy", Category: CategoryLocked})
	defer func() {
		statusMu.Lock()
		delete(statusTable, code)
		statusMu.Unlock()
	}()

	info := LookupStatus(code)
	assert.Equal(t, CategoryLocked, info.Category)
	assert.Equal(t, "firmware busy", info.Message)
}

func TestDeviceError_Classification(t *testing.T) {
	declined := newStatusError(0x6985)
	assert.True(t, errors.Is(declined, types.ErrUserDeclined))
	assert.True(t, types.IsCancellation(declined))
	assert.False(t, types.IsRetryable(declined))

	locked := newStatusError(0x5515)
	assert.False(t, errors.Is(locked, types.ErrUserDeclined))
	assert.True(t, types.IsRetryable(locked))

	transport := newTransportError(errors.New("usb unplugged"))
	assert.True(t, types.IsRetryable(transport))
	assert.Contains(t, transport.Error(), "usb unplugged")

	invalid := newStatusError(0x6B04)
	assert.False(t, types.IsRetryable(invalid))
	assert.Contains(t, invalid.Error(), "0x6b04")
}

func TestCategory_ParseRoundTrip(t *testing.T) {
	for c := CategoryUnknown; c <= CategoryTransport; c++ {
		parsed, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := ParseCategory("exploded")
	assert.Error(t, err)
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("m/44'/919'/0'/3'/1'/2'")
	require.NoError(t, err)
	assert.Equal(t, AccountPath(3, 1, 2), p)
	assert.Equal(t, "m/44'/919'/0'/3'/1'/2'", p.String())

	g, err := ParsePath("m/44'/919'/1'/1'/4'")
	require.NoError(t, err)
	assert.Equal(t, GovernancePath(GovernanceLevel1, 4), g)

	for _, bad := range []string{
		"44'/919'/0'",
		"m/44'/919'/0'/0",
		"m/1'/2'/3'/4'/5'/6'/7'/8'/9'/10'/11'",
		"m/x'",
	} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestPath_EncodeDecode(t *testing.T) {
	p := GovernancePath(GovernanceRoot, 7)
	b, err := p.Encode()
	require.NoError(t, err)
	assert.Len(t, b, 1+4*len(p))
	assert.Equal(t, byte(5), b[0])

	decoded, n, err := DecodePath(append(b, 0xFF))
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
	assert.Equal(t, len(b), n)

	_, _, err = DecodePath(b[:len(b)-1])
	assert.Error(t, err)

	_, err = Path{1, 2}.Encode()
	assert.Error(t, err)
}

func TestVersion_AtLeast(t *testing.T) {
	v := Version{Major: 1, Minor: 2, Patch: 3}
	assert.True(t, v.AtLeast(Version{1, 2, 3}))
	assert.True(t, v.AtLeast(Version{1, 0, 9}))
	assert.False(t, v.AtLeast(Version{1, 3, 0}))
	assert.False(t, v.AtLeast(Version{2, 0, 0}))
	assert.Equal(t, "1.2.3", v.String())
}
