package emulator

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"
)

// Serve exposes the device over the length-prefixed TCP protocol that
// development tooling uses: requests are len u32 ‖ apdu, replies are
// len u32 ‖ data ‖ sw where len counts the data only. Serve returns when
// ctx is cancelled or the listener fails.
func (d *Device) Serve(ctx context.Context, ln net.Listener, logger *zap.Logger) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go d.serveConn(ctx, c, logger)
	}
}

func (d *Device) serveConn(ctx context.Context, c net.Conn, logger *zap.Logger) {
	defer func() { _ = c.Close() }()
	transport := d.Connect()
	defer func() { _ = transport.Close() }()
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(c, lenBuf[:]); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Sugar().Debugw("Emulator connection ended", "remote", c.RemoteAddr().String(), "error", err)
			}
			return
		}
		apdu := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(c, apdu); err != nil {
			return
		}
		resp, err := transport.Exchange(apdu)
		if err != nil {
			return
		}
		out := make([]byte, 4, 4+len(resp))
		binary.BigEndian.PutUint32(out, uint32(len(resp)-2))
		out = append(out, resp...)
		if _, err := c.Write(out); err != nil {
			return
		}
	}
}
