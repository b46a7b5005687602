package codec

import (
	"math"
	"sort"

	"github.com/ccdwallet/multisig-go/pkg/types"
)

// SignedTransaction is the decoded form of an assembled transaction
type SignedTransaction struct {
	Family     Family
	Unsigned   []byte
	Signatures []types.Signature
}

// Assemble combines canonical unsigned bytes with signatures into the signed
// wire form of the given family. Signatures are ordered by index; the order
// they were collected in does not matter.
func Assemble(family Family, unsigned []byte, sigs []types.Signature) ([]byte, error) {
	switch family {
	case FamilyAccount:
		return AssembleAccountTransaction(unsigned, sigs)
	case FamilyUpdate:
		return AssembleUpdateInstruction(unsigned, sigs)
	default:
		return nil, types.NewEncodingError("family", "unknown transaction family %d", family)
	}
}

func sortedSignatures(sigs []types.Signature) ([]types.Signature, error) {
	if len(sigs) == 0 {
		return nil, types.NewEncodingError("signatures", "at least one signature is required")
	}
	sorted := make([]types.Signature, len(sigs))
	copy(sorted, sigs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index.Less(sorted[j].Index) })
	for i := range sorted {
		if len(sorted[i].Bytes) == 0 || len(sorted[i].Bytes) > math.MaxUint16 {
			return nil, types.NewEncodingError("signatures", "signature %s has invalid length %d", sorted[i].Index, len(sorted[i].Bytes))
		}
		if i > 0 && sorted[i].Index == sorted[i-1].Index {
			return nil, types.NewEncodingError("signatures", "duplicate signature for %s", sorted[i].Index)
		}
	}
	return sorted, nil
}

// AssembleAccountTransaction produces signatures ‖ header ‖ payload where the
// signature block is grouped by credential
func AssembleAccountTransaction(unsigned []byte, sigs []types.Signature) ([]byte, error) {
	sorted, err := sortedSignatures(sigs)
	if err != nil {
		return nil, err
	}
	type credentialGroup struct {
		index uint8
		sigs  []types.Signature
	}
	var groups []credentialGroup
	for _, s := range sorted {
		if s.Index.Key > math.MaxUint8 {
			return nil, types.NewEncodingError("signatures", "account key index %d does not fit in 8 bits", s.Index.Key)
		}
		if n := len(groups); n == 0 || groups[n-1].index != s.Index.Credential {
			groups = append(groups, credentialGroup{index: s.Index.Credential})
		}
		groups[len(groups)-1].sigs = append(groups[len(groups)-1].sigs, s)
	}

	w := &writer{}
	if err := w.count8("credentials", len(groups)); err != nil {
		return nil, err
	}
	for _, g := range groups {
		w.u8(g.index)
		if err := w.count8("credential keys", len(g.sigs)); err != nil {
			return nil, err
		}
		for _, s := range g.sigs {
			w.u8(uint8(s.Index.Key))
			w.u16(uint16(len(s.Bytes)))
			w.raw(s.Bytes)
		}
	}
	w.raw(unsigned)
	return w.Bytes(), nil
}

// AssembleUpdateInstruction produces header ‖ payload ‖ signatures
func AssembleUpdateInstruction(unsigned []byte, sigs []types.Signature) ([]byte, error) {
	sorted, err := sortedSignatures(sigs)
	if err != nil {
		return nil, err
	}
	w := &writer{}
	w.raw(unsigned)
	if err := w.count16("signatures", len(sorted)); err != nil {
		return nil, err
	}
	for _, s := range sorted {
		if s.Index.Credential != 0 {
			return nil, types.NewEncodingError("signatures", "update signature %s must not name a credential", s.Index)
		}
		w.u16(s.Index.Key)
		w.u16(uint16(len(s.Bytes)))
		w.raw(s.Bytes)
	}
	return w.Bytes(), nil
}

// DecodeSigned splits a signed transaction back into its unsigned bytes and
// signatures. The unsigned part is validated by decoding it.
func DecodeSigned(family Family, data []byte) (*SignedTransaction, error) {
	switch family {
	case FamilyAccount:
		return decodeSignedAccount(data)
	case FamilyUpdate:
		return decodeSignedUpdate(data)
	default:
		return nil, types.NewDecodingError(0, "unknown transaction family %d", family)
	}
}

func decodeSignedAccount(data []byte) (*SignedTransaction, error) {
	r := newReader(data)
	st := &SignedTransaction{Family: FamilyAccount}
	creds, err := r.u8("credential count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(creds); i++ {
		cred, err := r.u8("credential index")
		if err != nil {
			return nil, err
		}
		keys, err := r.u8("key count")
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(keys); j++ {
			key, err := r.u8("key index")
			if err != nil {
				return nil, err
			}
			sig, err := r.bytes16("signature", math.MaxUint16)
			if err != nil {
				return nil, err
			}
			st.Signatures = append(st.Signatures, types.Signature{
				Index: types.SignatureIndex{Credential: cred, Key: uint16(key)},
				Bytes: sig,
			})
		}
	}
	off := r.off
	st.Unsigned, err = r.bytes(r.remaining(), "transaction")
	if err != nil {
		return nil, err
	}
	if _, err := DeserializeAccountTransaction(st.Unsigned); err != nil {
		return nil, shiftOffset(err, off)
	}
	return st, nil
}

func decodeSignedUpdate(data []byte) (*SignedTransaction, error) {
	r := newReader(data)
	if r.remaining() < UpdateHeaderSize {
		return nil, types.NewDecodingError(0, "truncated update header: need %d bytes, have %d", UpdateHeaderSize, r.remaining())
	}
	r.off = UpdateHeaderSize - 4
	size, err := r.u32("payload size")
	if err != nil {
		return nil, err
	}
	if uint64(size) > uint64(r.remaining()) {
		return nil, types.NewDecodingError(r.off, "truncated payload: need %d bytes, have %d", size, r.remaining())
	}
	end := UpdateHeaderSize + int(size)
	st := &SignedTransaction{Family: FamilyUpdate, Unsigned: append([]byte(nil), data[:end]...)}
	if _, err := DeserializeUpdateInstruction(st.Unsigned); err != nil {
		return nil, err
	}
	r.off = end
	n, err := r.u16("signature count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		key, err := r.u16("key index")
		if err != nil {
			return nil, err
		}
		sig, err := r.bytes16("signature", math.MaxUint16)
		if err != nil {
			return nil, err
		}
		st.Signatures = append(st.Signatures, types.Signature{Index: types.SignatureIndex{Key: key}, Bytes: sig})
	}
	if err := r.done("signatures"); err != nil {
		return nil, err
	}
	return st, nil
}
