package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// Transport moves one command APDU to the device and returns the raw
// response (data ‖ status word). Exchange blocks until the device answers;
// Close must unblock a pending Exchange.
type Transport interface {
	Exchange(apdu []byte) ([]byte, error)
	Close() error
}

// Version is the version of the app running on the device
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is the same as or newer than other
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor > other.Minor
	}
	return v.Patch >= other.Patch
}

// Client speaks the command protocol over a Transport. It is strictly
// request/response and holds no state; use a Session for concurrency
// control and deadlines.
type Client struct {
	transport Transport
	logger    *zap.Logger
}

func NewClient(transport Transport, logger *zap.Logger) *Client {
	return &Client{transport: transport, logger: logger}
}

// exchange sends one frame and fails on any status other than StatusOK
func (c *Client) exchange(cmd Command) ([]byte, error) {
	apdu, err := cmd.Encode()
	if err != nil {
		return nil, err
	}
	c.logger.Sugar().Debugw("Sending frame to device", "ins", cmd.Ins.String(), "apdu", hexutil.Encode(apdu))
	raw, err := c.transport.Exchange(apdu)
	if err != nil {
		return nil, newTransportError(err)
	}
	resp, err := DecodeResponse(raw)
	if err != nil {
		return nil, newTransportError(err)
	}
	c.logger.Sugar().Debugw("Received frame from device", "ins", cmd.Ins.String(), "status", fmt.Sprintf("%#04x", resp.Status), "data", hexutil.Encode(resp.Data))
	if resp.Status != StatusOK {
		return nil, newStatusError(resp.Status)
	}
	return resp.Data, nil
}

// GetVersion asks the device for the version of the open app
func (c *Client) GetVersion() (Version, error) {
	data, err := c.exchange(Command{Ins: InsGetVersion, P1: P1First, P2: P2Last})
	if err != nil {
		return Version{}, err
	}
	if len(data) != 3 {
		return Version{}, newTransportError(fmt.Errorf("version reply of %d bytes", len(data)))
	}
	return Version{Major: data[0], Minor: data[1], Patch: data[2]}, nil
}

// GetPublicKey returns the ed25519 public key at path
func (c *Client) GetPublicKey(path Path) (ed25519.PublicKey, error) {
	encoded, err := path.Encode()
	if err != nil {
		return nil, err
	}
	data, err := c.exchange(Command{Ins: InsGetPublicKey, P1: P1First, P2: P2Last, Data: encoded})
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, newTransportError(fmt.Errorf("public key reply of %d bytes", len(data)))
	}
	return ed25519.PublicKey(data), nil
}

// Sign streams the unsigned transaction bytes to the device frame by frame
// and returns the signature from the last frame. The device shows the
// transaction to the user, who may decline on any frame.
func (c *Client) Sign(ins Instruction, path Path, unsigned []byte) ([]byte, error) {
	if ins != InsSignAccountTransaction && ins != InsSignUpdateInstruction {
		return nil, fmt.Errorf("%s is not a signing instruction", ins)
	}
	frames, err := signingFrames(ins, path, unsigned)
	if err != nil {
		return nil, err
	}
	var data []byte
	for i, frame := range frames {
		data, err = c.exchange(frame)
		if err != nil {
			return nil, err
		}
		if i < len(frames)-1 && len(data) != 0 {
			return nil, newTransportError(fmt.Errorf("unexpected %d data bytes after frame %d", len(data), i))
		}
	}
	if len(data) != ed25519.SignatureSize {
		return nil, newTransportError(fmt.Errorf("signature reply of %d bytes", len(data)))
	}
	return data, nil
}

func (c *Client) Close() error {
	return c.transport.Close()
}
