package codec

import (
	"crypto/sha256"
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/types"
)

// Family separates account transactions from chain update instructions.
// The two families have different headers and signature layouts.
type Family uint8

const (
	FamilyAccount Family = iota + 1
	FamilyUpdate
)

func (f Family) String() string {
	switch f {
	case FamilyAccount:
		return "account"
	case FamilyUpdate:
		return "update"
	default:
		return fmt.Sprintf("Family(%d)", uint8(f))
	}
}

// ParseFamily is the inverse of Family.String
func ParseFamily(s string) (Family, error) {
	switch s {
	case "account":
		return FamilyAccount, nil
	case "update":
		return FamilyUpdate, nil
	default:
		return 0, fmt.Errorf("unknown transaction family %q", s)
	}
}

const (
	// AccountHeaderSize is the size of a serialized account transaction header
	AccountHeaderSize = types.AddressLength + 8 + 8 + 4 + 8
	// UpdateHeaderSize is the size of a serialized update instruction header
	UpdateHeaderSize = 8 + 8 + 8 + 4
)

// Transaction is an unsigned account transaction or update instruction
type Transaction interface {
	Family() Family
	// ExpiresAt is the last second at which the chain accepts the transaction
	ExpiresAt() types.Timestamp
	serialize() ([]byte, error)
}

// AccountTransactionHeader precedes every account transaction payload. The
// payload size is derived from the payload when serializing.
type AccountTransactionHeader struct {
	Sender types.Address
	Nonce  types.Nonce
	Energy types.Energy
	Expiry types.Timestamp
}

// AccountTransaction is a transaction sent from a (possibly multi-signature) account
type AccountTransaction struct {
	Header  AccountTransactionHeader
	Payload AccountPayload
}

func (*AccountTransaction) Family() Family { return FamilyAccount }

func (t *AccountTransaction) ExpiresAt() types.Timestamp { return t.Header.Expiry }

func (t *AccountTransaction) serialize() ([]byte, error) {
	if t.Header.Nonce == 0 {
		return nil, types.NewEncodingError("nonce", "account nonces start at 1")
	}
	payload, err := encodeAccountPayload(t.Payload)
	if err != nil {
		return nil, err
	}
	w := &writer{}
	w.raw(t.Header.Sender[:])
	w.u64(uint64(t.Header.Nonce))
	w.u64(uint64(t.Header.Energy))
	if uint64(len(payload)) > 1<<32-1 {
		return nil, types.NewEncodingError("payload", "size %d does not fit in 32 bits", len(payload))
	}
	w.u32(uint32(len(payload)))
	w.u64(uint64(t.Header.Expiry))
	w.raw(payload)
	return w.Bytes(), nil
}

// UpdateHeader precedes every update instruction payload
type UpdateHeader struct {
	SequenceNumber types.SequenceNumber
	// EffectiveTime of zero means the update takes effect immediately
	EffectiveTime types.Timestamp
	Timeout       types.Timestamp
}

// UpdateInstruction is a chain parameter update signed by governance keys
type UpdateInstruction struct {
	Header  UpdateHeader
	Payload UpdatePayload
}

func (*UpdateInstruction) Family() Family { return FamilyUpdate }

func (u *UpdateInstruction) ExpiresAt() types.Timestamp { return u.Header.Timeout }

func (u *UpdateInstruction) serialize() ([]byte, error) {
	if err := u.Header.validate(); err != nil {
		return nil, err
	}
	payload, err := encodeUpdatePayload(u.Payload)
	if err != nil {
		return nil, err
	}
	w := &writer{}
	w.u64(uint64(u.Header.SequenceNumber))
	w.u64(uint64(u.Header.EffectiveTime))
	w.u64(uint64(u.Header.Timeout))
	if uint64(len(payload)) > 1<<32-1 {
		return nil, types.NewEncodingError("payload", "size %d does not fit in 32 bits", len(payload))
	}
	w.u32(uint32(len(payload)))
	w.raw(payload)
	return w.Bytes(), nil
}

func (h UpdateHeader) validate() error {
	if h.EffectiveTime != 0 && h.Timeout >= h.EffectiveTime {
		return types.NewEncodingError("timeout", "timeout %d must be before the effective time %d", h.Timeout, h.EffectiveTime)
	}
	return nil
}

// Serialize returns the canonical unsigned bytes of tx: header followed by payload
func Serialize(tx Transaction) ([]byte, error) {
	if tx == nil {
		return nil, types.NewEncodingError("transaction", "missing transaction")
	}
	return tx.serialize()
}

// Digest is the SHA-256 hash of the canonical unsigned bytes. It is what
// every signer signs.
func Digest(unsigned []byte) types.Hash {
	return sha256.Sum256(unsigned)
}

// SerializeAndDigest serializes tx and hashes the result
func SerializeAndDigest(tx Transaction) ([]byte, types.Hash, error) {
	b, err := Serialize(tx)
	if err != nil {
		return nil, types.Hash{}, err
	}
	return b, Digest(b), nil
}

// SerializePayload encodes an account or update payload on its own,
// including the leading kind byte
func SerializePayload(p interface{}) ([]byte, error) {
	switch v := p.(type) {
	case AccountPayload:
		return encodeAccountPayload(v)
	case UpdatePayload:
		return encodeUpdatePayload(v)
	default:
		return nil, types.NewEncodingError("payload", "unsupported payload type %T", p)
	}
}

// DeserializeAccountPayload decodes a complete account payload
func DeserializeAccountPayload(data []byte) (AccountPayload, error) {
	return decodeAccountPayload(data)
}

// DeserializeUpdatePayload decodes a complete update payload
func DeserializeUpdatePayload(data []byte) (UpdatePayload, error) {
	return decodeUpdatePayload(data)
}

// Deserialize decodes canonical unsigned bytes of the given family
func Deserialize(family Family, data []byte) (Transaction, error) {
	switch family {
	case FamilyAccount:
		return DeserializeAccountTransaction(data)
	case FamilyUpdate:
		return DeserializeUpdateInstruction(data)
	default:
		return nil, types.NewDecodingError(0, "unknown transaction family %d", family)
	}
}

// DeserializeAccountTransaction decodes the unsigned bytes of an account transaction
func DeserializeAccountTransaction(data []byte) (*AccountTransaction, error) {
	r := newReader(data)
	tx := &AccountTransaction{}
	var err error
	if tx.Header.Sender, err = r.address("sender"); err != nil {
		return nil, err
	}
	off := r.off
	nonce, err := r.u64("nonce")
	if err != nil {
		return nil, err
	}
	if nonce == 0 {
		return nil, types.NewDecodingError(off, "account nonces start at 1")
	}
	tx.Header.Nonce = types.Nonce(nonce)
	energy, err := r.u64("energy")
	if err != nil {
		return nil, err
	}
	tx.Header.Energy = types.Energy(energy)
	size, err := r.u32("payload size")
	if err != nil {
		return nil, err
	}
	expiry, err := r.u64("expiry")
	if err != nil {
		return nil, err
	}
	tx.Header.Expiry = types.Timestamp(expiry)

	payload, err := payloadBytes(r, size)
	if err != nil {
		return nil, err
	}
	if tx.Payload, err = decodeAccountPayload(payload); err != nil {
		return nil, shiftOffset(err, AccountHeaderSize)
	}
	return tx, nil
}

// DeserializeUpdateInstruction decodes the unsigned bytes of an update instruction
func DeserializeUpdateInstruction(data []byte) (*UpdateInstruction, error) {
	r := newReader(data)
	u := &UpdateInstruction{}
	seq, err := r.u64("sequence number")
	if err != nil {
		return nil, err
	}
	effective, err := r.u64("effective time")
	if err != nil {
		return nil, err
	}
	off := r.off
	timeout, err := r.u64("timeout")
	if err != nil {
		return nil, err
	}
	u.Header = UpdateHeader{
		SequenceNumber: types.SequenceNumber(seq),
		EffectiveTime:  types.Timestamp(effective),
		Timeout:        types.Timestamp(timeout),
	}
	if err := u.Header.validate(); err != nil {
		return nil, types.NewDecodingError(off, "%v", err)
	}
	size, err := r.u32("payload size")
	if err != nil {
		return nil, err
	}
	payload, err := payloadBytes(r, size)
	if err != nil {
		return nil, err
	}
	if u.Payload, err = decodeUpdatePayload(payload); err != nil {
		return nil, shiftOffset(err, UpdateHeaderSize)
	}
	return u, nil
}

// payloadBytes takes exactly size bytes and requires them to be the rest of the input
func payloadBytes(r *reader, size uint32) ([]byte, error) {
	if uint64(size) != uint64(r.remaining()) {
		return nil, types.NewDecodingError(r.off, "payload size %d does not match the %d remaining bytes", size, r.remaining())
	}
	return r.take(int(size), "payload")
}

// shiftOffset rebases a payload decoding error onto the enclosing buffer
func shiftOffset(err error, by int) error {
	if de, ok := err.(*types.DecodingError); ok {
		shifted := *de
		shifted.Offset += by
		return &shifted
	}
	return err
}
