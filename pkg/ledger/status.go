package ledger

import (
	"fmt"
	"sync"

	"github.com/ccdwallet/multisig-go/pkg/types"
)

// Category groups device status words by what the caller should do about them
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryDeclined means the user rejected the request on the device
	CategoryDeclined
	// CategoryCompatibility means the wrong app is open or the app is too old
	CategoryCompatibility
	// CategoryInvalidInput means the device refused the data it was sent
	CategoryInvalidInput
	// CategoryLocked means the device is locked; unlocking and retrying helps
	CategoryLocked
	// CategoryTransport means the connection to the device failed
	CategoryTransport
)

func (c Category) String() string {
	switch c {
	case CategoryDeclined:
		return "declined"
	case CategoryCompatibility:
		return "compatibility"
	case CategoryInvalidInput:
		return "invalid_input"
	case CategoryLocked:
		return "locked"
	case CategoryTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ParseCategory is the inverse of Category.String
func ParseCategory(s string) (Category, error) {
	for c := CategoryUnknown; c <= CategoryTransport; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("unknown device error category %q", s)
}

// StatusInfo describes a known status word
type StatusInfo struct {
	Message  string
	Category Category
}

var (
	statusMu    sync.RWMutex
	statusTable = map[uint16]StatusInfo{
		0x6985: {"rejected by the user", CategoryDeclined},
		0x6B01: {"invalid state", CategoryCompatibility},
		0x6B02: {"invalid derivation path", CategoryInvalidInput},
		0x6B03: {"invalid parameter", CategoryInvalidInput},
		0x6B04: {"invalid transaction", CategoryInvalidInput},
		0x6D00: {"instruction not supported", CategoryCompatibility},
		0x6E00: {"wrong app open on the device", CategoryCompatibility},
		0x6E01: {"app is not open on the device", CategoryCompatibility},
		0x5515: {"device is locked", CategoryLocked},
		0x6A80: {"invalid data", CategoryInvalidInput},
	}
)

// RegisterStatus adds or replaces the meaning of a status word
func RegisterStatus(code uint16, info StatusInfo) {
	statusMu.Lock()
	defer statusMu.Unlock()
	statusTable[code] = info
}

// LookupStatus maps any status word to its meaning. Unknown codes map to
// CategoryUnknown; the lookup never fails.
func LookupStatus(code uint16) StatusInfo {
	statusMu.RLock()
	info, ok := statusTable[code]
	statusMu.RUnlock()
	if !ok {
		return StatusInfo{Message: fmt.Sprintf("unknown status %#04x", code), Category: CategoryUnknown}
	}
	return info
}

// DeviceError is a non-success response or transport failure from a device
type DeviceError struct {
	Code     uint16
	Category Category
	Message  string
	Err      error
}

func newStatusError(code uint16) *DeviceError {
	info := LookupStatus(code)
	return &DeviceError{Code: code, Category: info.Category, Message: info.Message}
}

func newTransportError(err error) *DeviceError {
	return &DeviceError{Category: CategoryTransport, Message: "device communication failed", Err: err}
}

func (e *DeviceError) Error() string {
	if e.Category == CategoryTransport {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("device returned %#04x (%s): %s", e.Code, e.Category, e.Message)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, types.ErrUserDeclined) match declined responses
func (e *DeviceError) Is(target error) bool {
	return target == types.ErrUserDeclined && e.Category == CategoryDeclined
}

// Retryable reports whether repeating the command can succeed without
// changing anything but the device's condition
func (e *DeviceError) Retryable() bool {
	return e.Category == CategoryLocked || e.Category == CategoryTransport
}
