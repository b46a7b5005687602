// Package hid talks to a hardware signing device over USB HID using the
// vendor's 64 byte report framing
package hid

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/karalabe/hid"
	"github.com/pkg/errors"
)

const (
	// VendorID is the USB vendor id of the supported devices
	VendorID uint16 = 0x2c97

	reportSize = 64
	channel    = 0x0101
	tagAPDU    = 0x05

	// usagePage identifies the APDU interface on devices exposing several
	usagePage = 0xffa0
)

// ErrNoDevice is returned when no supported device is plugged in
var ErrNoDevice = fmt.Errorf("no device with vendor id %#04x found", VendorID)

// Transport is an open HID connection
type Transport struct {
	mu     sync.Mutex
	device io.ReadWriteCloser
}

// Open connects to the first supported device
func Open() (*Transport, error) {
	if !hid.Supported() {
		return nil, errors.New("usb hid is not supported on this platform")
	}
	infos, err := hid.Enumerate(VendorID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate usb devices")
	}
	for _, info := range infos {
		if info.UsagePage != usagePage && info.Interface != 0 {
			continue
		}
		device, err := info.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open device %s", info.Path)
		}
		return &Transport{device: device}, nil
	}
	return nil, ErrNoDevice
}

// Exchange frames apdu into reports, writes them and reassembles the reply
func (t *Transport) Exchange(apdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return exchange(t.device, apdu)
}

func (t *Transport) Close() error {
	return t.device.Close()
}

// wrap splits apdu into reports of channel u16 ‖ tag u8 ‖ seq u16 ‖ data.
// The first report's data starts with the apdu length u16.
func wrap(apdu []byte) ([][]byte, error) {
	if len(apdu) > 0xffff {
		return nil, fmt.Errorf("apdu of %d bytes is too long", len(apdu))
	}
	payload := make([]byte, 2, 2+len(apdu))
	binary.BigEndian.PutUint16(payload, uint16(len(apdu)))
	payload = append(payload, apdu...)

	var reports [][]byte
	for seq := 0; len(payload) > 0; seq++ {
		report := make([]byte, reportSize)
		binary.BigEndian.PutUint16(report[0:], channel)
		report[2] = tagAPDU
		binary.BigEndian.PutUint16(report[3:], uint16(seq))
		n := copy(report[5:], payload)
		payload = payload[n:]
		reports = append(reports, report)
	}
	return reports, nil
}

// unwrap reads reports until the announced reply length has been received
func unwrap(r io.Reader) ([]byte, error) {
	var reply []byte
	expected := -1
	report := make([]byte, reportSize)
	for seq := 0; expected < 0 || len(reply) < expected; seq++ {
		if _, err := io.ReadFull(r, report); err != nil {
			return nil, errors.Wrap(err, "failed to read report")
		}
		if binary.BigEndian.Uint16(report[0:]) != channel || report[2] != tagAPDU {
			return nil, fmt.Errorf("unexpected report header % x", report[:3])
		}
		if got := int(binary.BigEndian.Uint16(report[3:])); got != seq {
			return nil, fmt.Errorf("report sequence %d, expected %d", got, seq)
		}
		data := report[5:]
		if seq == 0 {
			expected = int(binary.BigEndian.Uint16(data))
			reply = make([]byte, 0, expected)
			data = data[2:]
		}
		if left := expected - len(reply); len(data) > left {
			data = data[:left]
		}
		reply = append(reply, data...)
	}
	return reply, nil
}

func exchange(rw io.ReadWriter, apdu []byte) ([]byte, error) {
	reports, err := wrap(apdu)
	if err != nil {
		return nil, err
	}
	for _, report := range reports {
		if _, err := rw.Write(report); err != nil {
			return nil, errors.Wrap(err, "failed to write report")
		}
	}
	return unwrap(rw)
}
