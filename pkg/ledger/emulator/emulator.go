// Package emulator is a software stand-in for a hardware signing device. It
// speaks the same command protocol, derives ed25519 keys from a seed and
// lets tests script user decisions, locking and slow responses.
package emulator

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/ledger"
)

const (
	swUserRejected   uint16 = 0x6985
	swInvalidState   uint16 = 0x6B01
	swInvalidPath    uint16 = 0x6B02
	swInvalidParam   uint16 = 0x6B03
	swInvalidTx      uint16 = 0x6B04
	swInsUnsupported uint16 = 0x6D00
	swLocked         uint16 = 0x5515
	swBadData        uint16 = 0x6A80
)

// ErrClosed is returned by exchanges on a closed connection
var ErrClosed = errors.New("emulator connection closed")

type pendingSign struct {
	ins  ledger.Instruction
	path ledger.Path
	data []byte
}

// Device is an emulated device. Connect returns transports to it; several
// may exist at a time but the device handles one command at a time.
type Device struct {
	seed []byte

	mu          sync.Mutex
	version     ledger.Version
	locked      bool
	declineNext bool
	failNext    uint16
	gate        chan struct{}
	pending     *pendingSign
	commands    []ledger.Command
	signed      int
}

// New creates a device whose keys derive from seed
func New(seed []byte) *Device {
	return &Device{
		seed:    append([]byte(nil), seed...),
		version: ledger.Version{Major: 1, Minor: 2, Patch: 0},
	}
}

// SetVersion changes the reported app version
func (d *Device) SetVersion(v ledger.Version) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = v
}

// SetLocked makes every command fail with the locked status until unlocked
func (d *Device) SetLocked(locked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = locked
}

// DeclineNext makes the user reject the next signing request
func (d *Device) DeclineNext() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.declineNext = true
}

// FailNext makes the next command answer with status sw
func (d *Device) FailNext(sw uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = sw
}

// Hold makes the device stop answering, as if the user had walked away
// from it. Commands block until Release is called or their connection closes.
func (d *Device) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

// Release lets held commands complete
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

// Commands returns every command received so far
func (d *Device) Commands() []ledger.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ledger.Command(nil), d.commands...)
}

// SignCount is the number of signatures produced
func (d *Device) SignCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signed
}

// PrivateKey derives the key at path (SLIP-10, ed25519, hardened only)
func (d *Device) PrivateKey(path ledger.Path) ed25519.PrivateKey {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(d.seed)
	node := mac.Sum(nil)
	for _, index := range path {
		data := make([]byte, 0, 37)
		data = append(data, 0)
		data = append(data, node[:32]...)
		data = binary.BigEndian.AppendUint32(data, index)
		mac = hmac.New(sha512.New, node[32:])
		mac.Write(data)
		node = mac.Sum(nil)
	}
	return ed25519.NewKeyFromSeed(node[:32])
}

// PublicKey is the public half of PrivateKey(path)
func (d *Device) PublicKey(path ledger.Path) ed25519.PublicKey {
	return d.PrivateKey(path).Public().(ed25519.PublicKey)
}

// Connect returns a new transport to the device
func (d *Device) Connect() ledger.Transport {
	return &conn{device: d, closed: make(chan struct{})}
}

// Opener returns a session opener that connects to d
func (d *Device) Opener() ledger.Opener {
	return func(ctx context.Context) (ledger.Transport, error) {
		return d.Connect(), nil
	}
}

type conn struct {
	device    *Device
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *conn) Exchange(apdu []byte) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	c.device.mu.Lock()
	gate := c.device.gate
	c.device.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-c.closed:
			return nil, ErrClosed
		}
	}
	return c.device.handle(apdu), nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (d *Device) handle(apdu []byte) []byte {
	cmd, err := ledger.DecodeCommand(apdu)
	if err != nil {
		return ledger.EncodeResponse(nil, swBadData)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)

	if d.locked {
		return ledger.EncodeResponse(nil, swLocked)
	}
	if sw := d.failNext; sw != 0 {
		d.failNext = 0
		d.pending = nil
		return ledger.EncodeResponse(nil, sw)
	}

	switch cmd.Ins {
	case ledger.InsGetVersion:
		return ledger.EncodeResponse([]byte{d.version.Major, d.version.Minor, d.version.Patch}, ledger.StatusOK)
	case ledger.InsGetPublicKey:
		path, n, err := ledger.DecodePath(cmd.Data)
		if err != nil {
			return ledger.EncodeResponse(nil, swInvalidPath)
		}
		if n != len(cmd.Data) {
			return ledger.EncodeResponse(nil, swBadData)
		}
		return ledger.EncodeResponse(d.PublicKey(path), ledger.StatusOK)
	case ledger.InsSignAccountTransaction, ledger.InsSignUpdateInstruction:
		return d.handleSign(cmd)
	default:
		return ledger.EncodeResponse(nil, swInsUnsupported)
	}
}

func (d *Device) handleSign(cmd ledger.Command) []byte {
	switch cmd.P1 {
	case ledger.P1First:
		path, n, err := ledger.DecodePath(cmd.Data)
		if err != nil {
			d.pending = nil
			return ledger.EncodeResponse(nil, swInvalidPath)
		}
		if n != len(cmd.Data) {
			d.pending = nil
			return ledger.EncodeResponse(nil, swBadData)
		}
		d.pending = &pendingSign{ins: cmd.Ins, path: path}
		return ledger.EncodeResponse(nil, ledger.StatusOK)
	case ledger.P1Continuation:
		if d.pending == nil || d.pending.ins != cmd.Ins {
			d.pending = nil
			return ledger.EncodeResponse(nil, swInvalidState)
		}
		d.pending.data = append(d.pending.data, cmd.Data...)
		if cmd.P2 != ledger.P2Last {
			return ledger.EncodeResponse(nil, ledger.StatusOK)
		}
	default:
		d.pending = nil
		return ledger.EncodeResponse(nil, swInvalidParam)
	}

	p := d.pending
	d.pending = nil
	if d.declineNext {
		d.declineNext = false
		return ledger.EncodeResponse(nil, swUserRejected)
	}

	var err error
	if p.ins == ledger.InsSignAccountTransaction {
		_, err = codec.DeserializeAccountTransaction(p.data)
	} else {
		_, err = codec.DeserializeUpdateInstruction(p.data)
	}
	if err != nil {
		return ledger.EncodeResponse(nil, swInvalidTx)
	}

	digest := sha256.Sum256(p.data)
	d.signed++
	return ledger.EncodeResponse(ed25519.Sign(d.PrivateKey(p.path), digest[:]), ledger.StatusOK)
}
