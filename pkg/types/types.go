package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/shopspring/decimal"
)

const (
	// AddressLength is the length of a raw account address
	AddressLength = 32
	// HashLength is the length of a SHA-256 digest
	HashLength = 32
	// addressVersion is the base58check version byte of account addresses
	addressVersion byte = 1

	// AmountDecimals is the number of decimal places of one CCD (1 CCD = 10^6 µCCD)
	AmountDecimals = 6

	// MaxPartsPerHundredThousand bounds every fraction expressed in parts per 100000
	MaxPartsPerHundredThousand = 100000
)

// Address is a raw 32 byte account address
type Address [AddressLength]byte

// AddressFromBase58 decodes the base58check text form of an account address
func AddressFromBase58(s string) (Address, error) {
	var addr Address
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return addr, fmt.Errorf("invalid account address %q: %w", s, err)
	}
	if version != addressVersion {
		return addr, fmt.Errorf("invalid account address %q: unexpected version byte %d", s, version)
	}
	if len(raw) != AddressLength {
		return addr, fmt.Errorf("invalid account address %q: decoded length %d", s, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// MustAddressFromBase58 is AddressFromBase58 for constants and tests
func MustAddressFromBase58(s string) Address {
	addr, err := AddressFromBase58(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// String returns the base58check text form
func (a Address) String() string {
	return base58.CheckEncode(a[:], addressVersion)
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	addr, err := AddressFromBase58(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// Amount is an amount of CCD in micro-CCD
type Amount uint64

var maxAmount = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// ParseAmount parses a decimal CCD amount such as "12.5" into micro-CCD.
// Amounts with more than six decimals, negative amounts and amounts that do
// not fit in 64 bits are rejected.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, NewEncodingError("amount", "not a decimal number: %q", s)
	}
	if d.IsNegative() {
		return 0, NewEncodingError("amount", "negative amount %s", s)
	}
	micro := d.Shift(AmountDecimals)
	if !micro.Equal(micro.Truncate(0)) {
		return 0, NewEncodingError("amount", "%s has more than %d decimals", s, AmountDecimals)
	}
	if micro.GreaterThan(maxAmount) {
		return 0, NewEncodingError("amount", "%s exceeds the 64-bit range", s)
	}
	return Amount(micro.BigInt().Uint64()), nil
}

// String formats the amount in CCD with six decimals
func (a Amount) String() string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -AmountDecimals).StringFixed(AmountDecimals)
}

// Energy is the amount of energy a transaction may consume
type Energy uint64

// Nonce is the per-account sequence number of an account transaction. Nonces start at 1.
type Nonce uint64

// SequenceNumber is the per-update-queue sequence number of an update instruction
type SequenceNumber uint64

// Timestamp is a point in time in seconds since the unix epoch
type Timestamp uint64

// TimestampFromTime converts a time to a Timestamp, truncating to seconds
func TimestampFromTime(t time.Time) Timestamp {
	if t.Unix() < 0 {
		return 0
	}
	return Timestamp(t.Unix())
}

// Time converts the timestamp to a time.Time
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

// HasPassed reports whether the timestamp lies strictly before now
func (t Timestamp) HasPassed(now time.Time) bool {
	return t.Time().Before(now)
}

// Hash is a SHA-256 digest
type Hash [HashLength]byte

// HashFromHex parses a hex encoded hash
func HashFromHex(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != HashLength {
		return h, fmt.Errorf("invalid hash %q: expected %d bytes, got %d", s, HashLength, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// PartsPerHundredThousand expresses a fraction with a denominator of 100000
type PartsPerHundredThousand uint32

// Validate checks that the fraction is at most one
func (p PartsPerHundredThousand) Validate(field string) error {
	if p > MaxPartsPerHundredThousand {
		return NewEncodingError(field, "%d exceeds %d parts per hundred thousand", p, MaxPartsPerHundredThousand)
	}
	return nil
}

// ExchangeRate is a positive rational number
type ExchangeRate struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// Validate checks that both components are non-zero
func (r ExchangeRate) Validate(field string) error {
	if r.Numerator == 0 || r.Denominator == 0 {
		return NewEncodingError(field, "exchange rate %d/%d must have non-zero components", r.Numerator, r.Denominator)
	}
	return nil
}

// SignatureIndex identifies the key that produced a signature. Account
// transactions are signed by key Key of credential Credential; update
// instructions only use Key, an index into the authorization key set.
type SignatureIndex struct {
	Credential uint8  `json:"credential"`
	Key        uint16 `json:"key"`
}

func (s SignatureIndex) String() string {
	return fmt.Sprintf("%d/%d", s.Credential, s.Key)
}

// Less orders indices the way signatures appear on the wire
func (s SignatureIndex) Less(other SignatureIndex) bool {
	if s.Credential != other.Credential {
		return s.Credential < other.Credential
	}
	return s.Key < other.Key
}

// MarshalText allows SignatureIndex to be used as a JSON map key
func (s SignatureIndex) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SignatureIndex) UnmarshalText(text []byte) error {
	var cred, key uint64
	if _, err := fmt.Sscanf(string(text), "%d/%d", &cred, &key); err != nil {
		return fmt.Errorf("invalid signature index %q: %w", string(text), err)
	}
	if cred > 0xff || key > 0xffff {
		return fmt.Errorf("invalid signature index %q: out of range", string(text))
	}
	s.Credential = uint8(cred)
	s.Key = uint16(key)
	return nil
}

// Signature is a raw signature produced by the key at Index
type Signature struct {
	Index SignatureIndex `json:"index"`
	Bytes []byte         `json:"bytes"`
}

// signatureJSON keeps signature bytes hex encoded in files
type signatureJSON struct {
	Index SignatureIndex `json:"index"`
	Bytes string         `json:"bytes"`
}

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(signatureJSON{Index: s.Index, Bytes: hex.EncodeToString(s.Bytes)})
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var raw signatureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b, err := hex.DecodeString(raw.Bytes)
	if err != nil {
		return fmt.Errorf("invalid signature bytes: %w", err)
	}
	s.Index = raw.Index
	s.Bytes = b
	return nil
}
