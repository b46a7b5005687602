// Package tcp connects to a device emulator over its length-prefixed TCP protocol
package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// maxReply bounds the data length a peer may announce
const maxReply = 1 << 16

// Transport is a connection to an emulator
type Transport struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to the emulator at addr
func Dial(ctx context.Context, addr string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to emulator at %s", addr)
	}
	return &Transport{conn: conn}, nil
}

// Exchange sends len u32 ‖ apdu and reads len u32 ‖ data ‖ sw
func (t *Transport) Exchange(apdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req := make([]byte, 4, 4+len(apdu))
	binary.BigEndian.PutUint32(req, uint32(len(apdu)))
	req = append(req, apdu...)
	if _, err := t.conn.Write(req); err != nil {
		return nil, errors.Wrap(err, "failed to write apdu")
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(t.conn, lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read reply length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxReply {
		return nil, fmt.Errorf("reply length %d exceeds %d", n, maxReply)
	}
	reply := make([]byte, n+2)
	if _, err := io.ReadFull(t.conn, reply); err != nil {
		return nil, errors.Wrap(err, "failed to read reply")
	}
	return reply, nil
}

// Close closes the connection, unblocking a pending Exchange
func (t *Transport) Close() error {
	return t.conn.Close()
}
