package codec

import (
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/types"
)

// AccountTransactionKind is the discriminator byte that starts every account
// transaction payload
type AccountTransactionKind uint8

const (
	KindSimpleTransfer       AccountTransactionKind = 3
	KindAddBaker             AccountTransactionKind = 4
	KindRemoveBaker          AccountTransactionKind = 5
	KindTransferWithSchedule AccountTransactionKind = 13
	KindUpdateCredentials    AccountTransactionKind = 14
	KindRegisterData         AccountTransactionKind = 15
	KindTransferWithMemo     AccountTransactionKind = 16
	KindConfigureBaker       AccountTransactionKind = 19
	KindConfigureDelegation  AccountTransactionKind = 20
)

var accountKindNames = map[AccountTransactionKind]string{
	KindSimpleTransfer:       "SimpleTransfer",
	KindAddBaker:             "AddBaker",
	KindRemoveBaker:          "RemoveBaker",
	KindTransferWithSchedule: "TransferWithSchedule",
	KindUpdateCredentials:    "UpdateCredentials",
	KindRegisterData:         "RegisterData",
	KindTransferWithMemo:     "TransferWithMemo",
	KindConfigureBaker:       "ConfigureBaker",
	KindConfigureDelegation:  "ConfigureDelegation",
}

func (k AccountTransactionKind) String() string {
	if name, ok := accountKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("AccountTransactionKind(%d)", uint8(k))
}

const (
	MaxMemoSize         = 256
	MaxRegisteredData   = 256
	MaxMetadataURLSize  = 2048
	MaxScheduleReleases = 255
	CredentialIDSize    = 48

	electionKeySize    = 32
	signatureKeySize   = 32
	aggregationKeySize = 96
	proofSize          = 64
)

// AccountPayload is one of the account transaction payload variants. The set
// is closed: only types in this package implement it.
type AccountPayload interface {
	Kind() AccountTransactionKind
	encode(w *writer) error
}

// SimpleTransfer moves Amount from the sender to To
type SimpleTransfer struct {
	To     types.Address
	Amount types.Amount
}

func (SimpleTransfer) Kind() AccountTransactionKind { return KindSimpleTransfer }

func (p SimpleTransfer) encode(w *writer) error {
	w.raw(p.To[:])
	w.u64(uint64(p.Amount))
	return nil
}

// TransferWithMemo is a simple transfer carrying an opaque memo
type TransferWithMemo struct {
	To     types.Address
	Memo   []byte
	Amount types.Amount
}

func (TransferWithMemo) Kind() AccountTransactionKind { return KindTransferWithMemo }

func (p TransferWithMemo) encode(w *writer) error {
	w.raw(p.To[:])
	if err := w.bytes16("memo", p.Memo, MaxMemoSize); err != nil {
		return err
	}
	w.u64(uint64(p.Amount))
	return nil
}

// ScheduledRelease releases Amount to the receiver at Timestamp
type ScheduledRelease struct {
	Timestamp types.Timestamp
	Amount    types.Amount
}

// TransferWithSchedule transfers funds released over time. Releases must be
// given in strictly increasing timestamp order.
type TransferWithSchedule struct {
	To       types.Address
	Schedule []ScheduledRelease
}

func (TransferWithSchedule) Kind() AccountTransactionKind { return KindTransferWithSchedule }

func (p TransferWithSchedule) encode(w *writer) error {
	if len(p.Schedule) == 0 {
		return types.NewEncodingError("schedule", "at least one release is required")
	}
	for i := 1; i < len(p.Schedule); i++ {
		if p.Schedule[i].Timestamp <= p.Schedule[i-1].Timestamp {
			return types.NewEncodingError("schedule", "release %d is not after release %d", i, i-1)
		}
	}
	w.raw(p.To[:])
	if err := w.count8("schedule", len(p.Schedule)); err != nil {
		return err
	}
	for _, r := range p.Schedule {
		w.u64(uint64(r.Timestamp))
		w.u64(uint64(r.Amount))
	}
	return nil
}

// BakerKeys are the validator keys together with their proofs of possession
type BakerKeys struct {
	ElectionVerifyKey    [electionKeySize]byte
	ElectionProof        [proofSize]byte
	SignatureVerifyKey   [signatureKeySize]byte
	SignatureProof       [proofSize]byte
	AggregationVerifyKey [aggregationKeySize]byte
	AggregationProof     [proofSize]byte
}

func (k *BakerKeys) encode(w *writer) {
	w.raw(k.ElectionVerifyKey[:])
	w.raw(k.ElectionProof[:])
	w.raw(k.SignatureVerifyKey[:])
	w.raw(k.SignatureProof[:])
	w.raw(k.AggregationVerifyKey[:])
	w.raw(k.AggregationProof[:])
}

func decodeBakerKeys(r *reader) (BakerKeys, error) {
	var k BakerKeys
	for _, f := range []struct {
		dst  []byte
		name string
	}{
		{k.ElectionVerifyKey[:], "election verify key"},
		{k.ElectionProof[:], "election proof"},
		{k.SignatureVerifyKey[:], "signature verify key"},
		{k.SignatureProof[:], "signature proof"},
		{k.AggregationVerifyKey[:], "aggregation verify key"},
		{k.AggregationProof[:], "aggregation proof"},
	} {
		if err := r.fixed(f.dst, f.name); err != nil {
			return k, err
		}
	}
	return k, nil
}

// AddBaker registers the sender as a validator with the given stake
type AddBaker struct {
	Keys            BakerKeys
	Stake           types.Amount
	RestakeEarnings bool
}

func (AddBaker) Kind() AccountTransactionKind { return KindAddBaker }

func (p AddBaker) encode(w *writer) error {
	if p.Stake == 0 {
		return types.NewEncodingError("stake", "validator stake must be positive")
	}
	p.Keys.encode(w)
	w.u64(uint64(p.Stake))
	w.bool(p.RestakeEarnings)
	return nil
}

// RemoveBaker deregisters the sender as a validator. It has no fields.
type RemoveBaker struct{}

func (RemoveBaker) Kind() AccountTransactionKind { return KindRemoveBaker }

func (RemoveBaker) encode(*writer) error { return nil }

// CredentialDeployment is a new credential placed at Index on the account.
// Data is the serialized credential deployment information.
type CredentialDeployment struct {
	Index uint8
	Data  []byte
}

// UpdateCredentials adds and removes account credentials and sets the
// account's signature threshold
type UpdateCredentials struct {
	NewCredentials      []CredentialDeployment
	RemoveCredentialIDs [][CredentialIDSize]byte
	NewThreshold        uint8
}

func (UpdateCredentials) Kind() AccountTransactionKind { return KindUpdateCredentials }

func (p UpdateCredentials) encode(w *writer) error {
	if p.NewThreshold == 0 {
		return types.NewEncodingError("threshold", "account threshold must be at least 1")
	}
	if err := w.count8("new credentials", len(p.NewCredentials)); err != nil {
		return err
	}
	for i, c := range p.NewCredentials {
		if len(c.Data) == 0 {
			return types.NewEncodingError("new credentials", "credential %d has no deployment data", i)
		}
		w.u8(c.Index)
		if err := w.bytes32("credential deployment", c.Data); err != nil {
			return err
		}
	}
	if err := w.count8("removed credentials", len(p.RemoveCredentialIDs)); err != nil {
		return err
	}
	for _, id := range p.RemoveCredentialIDs {
		w.raw(id[:])
	}
	w.u8(p.NewThreshold)
	return nil
}

// RegisterData stores arbitrary data on chain
type RegisterData struct {
	Data []byte
}

func (RegisterData) Kind() AccountTransactionKind { return KindRegisterData }

func (p RegisterData) encode(w *writer) error {
	return w.bytes16("data", p.Data, MaxRegisteredData)
}

// OpenStatus controls whether delegators may join a validator pool
type OpenStatus uint8

const (
	OpenForAll   OpenStatus = 0
	ClosedForNew OpenStatus = 1
	ClosedForAll OpenStatus = 2
)

// Bits of the ConfigureBaker field bitmap, in encoding order
const (
	configureBakerCapital uint16 = 1 << iota
	configureBakerRestake
	configureBakerOpenStatus
	configureBakerKeys
	configureBakerMetadataURL
	configureBakerTransactionFee
	configureBakerBakingReward
	configureBakerFinalizationReward

	configureBakerAllBits = configureBakerFinalizationReward<<1 - 1
)

// ConfigureBaker adds, updates or removes (Capital = 0) a validator. Nil
// fields are left unchanged and omitted from the encoding; the bitmap marks
// which fields are present.
type ConfigureBaker struct {
	Capital                      *types.Amount
	RestakeEarnings              *bool
	OpenForDelegation            *OpenStatus
	Keys                         *BakerKeys
	MetadataURL                  *string
	TransactionFeeCommission     *types.PartsPerHundredThousand
	BakingRewardCommission       *types.PartsPerHundredThousand
	FinalizationRewardCommission *types.PartsPerHundredThousand
}

func (ConfigureBaker) Kind() AccountTransactionKind { return KindConfigureBaker }

func (p ConfigureBaker) bitmap() uint16 {
	var bits uint16
	set := func(present bool, bit uint16) {
		if present {
			bits |= bit
		}
	}
	set(p.Capital != nil, configureBakerCapital)
	set(p.RestakeEarnings != nil, configureBakerRestake)
	set(p.OpenForDelegation != nil, configureBakerOpenStatus)
	set(p.Keys != nil, configureBakerKeys)
	set(p.MetadataURL != nil, configureBakerMetadataURL)
	set(p.TransactionFeeCommission != nil, configureBakerTransactionFee)
	set(p.BakingRewardCommission != nil, configureBakerBakingReward)
	set(p.FinalizationRewardCommission != nil, configureBakerFinalizationReward)
	return bits
}

func (p ConfigureBaker) encode(w *writer) error {
	w.u16(p.bitmap())
	if p.Capital != nil {
		w.u64(uint64(*p.Capital))
	}
	if p.RestakeEarnings != nil {
		w.bool(*p.RestakeEarnings)
	}
	if p.OpenForDelegation != nil {
		if *p.OpenForDelegation > ClosedForAll {
			return types.NewEncodingError("open for delegation", "unknown status %d", *p.OpenForDelegation)
		}
		w.u8(uint8(*p.OpenForDelegation))
	}
	if p.Keys != nil {
		p.Keys.encode(w)
	}
	if p.MetadataURL != nil {
		if err := w.bytes16("metadata url", []byte(*p.MetadataURL), MaxMetadataURLSize); err != nil {
			return err
		}
	}
	for _, c := range []struct {
		v    *types.PartsPerHundredThousand
		name string
	}{
		{p.TransactionFeeCommission, "transaction fee commission"},
		{p.BakingRewardCommission, "baking reward commission"},
		{p.FinalizationRewardCommission, "finalization reward commission"},
	} {
		if c.v == nil {
			continue
		}
		if err := c.v.Validate(c.name); err != nil {
			return err
		}
		w.u32(uint32(*c.v))
	}
	return nil
}

// DelegationTarget is either the passive pool or a specific validator.
// A passive target must not name a validator.
type DelegationTarget struct {
	Passive bool
	BakerID uint64
}

const (
	configureDelegationCapital uint16 = 1 << iota
	configureDelegationRestake
	configureDelegationTarget

	configureDelegationAllBits = configureDelegationTarget<<1 - 1
)

// ConfigureDelegation adds, updates or removes (Capital = 0) a delegation
type ConfigureDelegation struct {
	Capital         *types.Amount
	RestakeEarnings *bool
	Target          *DelegationTarget
}

func (ConfigureDelegation) Kind() AccountTransactionKind { return KindConfigureDelegation }

func (p ConfigureDelegation) encode(w *writer) error {
	var bits uint16
	if p.Capital != nil {
		bits |= configureDelegationCapital
	}
	if p.RestakeEarnings != nil {
		bits |= configureDelegationRestake
	}
	if p.Target != nil {
		bits |= configureDelegationTarget
	}
	w.u16(bits)
	if p.Capital != nil {
		w.u64(uint64(*p.Capital))
	}
	if p.RestakeEarnings != nil {
		w.bool(*p.RestakeEarnings)
	}
	if p.Target != nil {
		if p.Target.Passive {
			if p.Target.BakerID != 0 {
				return types.NewEncodingError("delegation target", "passive target names validator %d", p.Target.BakerID)
			}
			w.u8(0)
		} else {
			w.u8(1)
			w.u64(p.Target.BakerID)
		}
	}
	return nil
}

// encodeAccountPayload writes the kind byte followed by the payload fields
func encodeAccountPayload(p AccountPayload) ([]byte, error) {
	if p == nil {
		return nil, types.NewEncodingError("payload", "missing payload")
	}
	w := &writer{}
	w.u8(uint8(p.Kind()))
	if err := p.encode(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// decodeAccountPayload decodes a complete payload, including the kind byte
func decodeAccountPayload(data []byte) (AccountPayload, error) {
	r := newReader(data)
	tag, err := r.u8("payload kind")
	if err != nil {
		return nil, err
	}

	var p AccountPayload
	switch AccountTransactionKind(tag) {
	case KindSimpleTransfer:
		p, err = decodeSimpleTransfer(r)
	case KindTransferWithMemo:
		p, err = decodeTransferWithMemo(r)
	case KindTransferWithSchedule:
		p, err = decodeTransferWithSchedule(r)
	case KindAddBaker:
		p, err = decodeAddBaker(r)
	case KindRemoveBaker:
		p = RemoveBaker{}
	case KindUpdateCredentials:
		p, err = decodeUpdateCredentials(r)
	case KindRegisterData:
		var data []byte
		data, err = r.bytes16("data", MaxRegisteredData)
		p = RegisterData{Data: data}
	case KindConfigureBaker:
		p, err = decodeConfigureBaker(r)
	case KindConfigureDelegation:
		p, err = decodeConfigureDelegation(r)
	default:
		return nil, types.NewDecodingError(0, "unknown account transaction kind %d", tag)
	}
	if err != nil {
		return nil, err
	}
	if err := r.done("payload " + AccountTransactionKind(tag).String()); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeSimpleTransfer(r *reader) (AccountPayload, error) {
	to, err := r.address("receiver")
	if err != nil {
		return nil, err
	}
	amount, err := r.u64("amount")
	if err != nil {
		return nil, err
	}
	return SimpleTransfer{To: to, Amount: types.Amount(amount)}, nil
}

func decodeTransferWithMemo(r *reader) (AccountPayload, error) {
	to, err := r.address("receiver")
	if err != nil {
		return nil, err
	}
	memo, err := r.bytes16("memo", MaxMemoSize)
	if err != nil {
		return nil, err
	}
	amount, err := r.u64("amount")
	if err != nil {
		return nil, err
	}
	return TransferWithMemo{To: to, Memo: memo, Amount: types.Amount(amount)}, nil
}

func decodeTransferWithSchedule(r *reader) (AccountPayload, error) {
	to, err := r.address("receiver")
	if err != nil {
		return nil, err
	}
	off := r.off
	n, err := r.u8("schedule length")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, types.NewDecodingError(off, "empty release schedule")
	}
	schedule := make([]ScheduledRelease, 0, n)
	for i := 0; i < int(n); i++ {
		off = r.off
		ts, err := r.u64("release timestamp")
		if err != nil {
			return nil, err
		}
		amount, err := r.u64("release amount")
		if err != nil {
			return nil, err
		}
		if i > 0 && types.Timestamp(ts) <= schedule[i-1].Timestamp {
			return nil, types.NewDecodingError(off, "release %d is not after release %d", i, i-1)
		}
		schedule = append(schedule, ScheduledRelease{Timestamp: types.Timestamp(ts), Amount: types.Amount(amount)})
	}
	return TransferWithSchedule{To: to, Schedule: schedule}, nil
}

func decodeAddBaker(r *reader) (AccountPayload, error) {
	keys, err := decodeBakerKeys(r)
	if err != nil {
		return nil, err
	}
	off := r.off
	stake, err := r.u64("stake")
	if err != nil {
		return nil, err
	}
	if stake == 0 {
		return nil, types.NewDecodingError(off, "validator stake must be positive")
	}
	restake, err := r.bool("restake earnings")
	if err != nil {
		return nil, err
	}
	return AddBaker{Keys: keys, Stake: types.Amount(stake), RestakeEarnings: restake}, nil
}

func decodeUpdateCredentials(r *reader) (AccountPayload, error) {
	var p UpdateCredentials
	n, err := r.u8("new credential count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		idx, err := r.u8("credential index")
		if err != nil {
			return nil, err
		}
		off := r.off
		data, err := r.bytes32("credential deployment")
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, types.NewDecodingError(off, "credential %d has no deployment data", i)
		}
		p.NewCredentials = append(p.NewCredentials, CredentialDeployment{Index: idx, Data: data})
	}
	n, err = r.u8("removed credential count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		var id [CredentialIDSize]byte
		if err := r.fixed(id[:], "credential id"); err != nil {
			return nil, err
		}
		p.RemoveCredentialIDs = append(p.RemoveCredentialIDs, id)
	}
	off := r.off
	if p.NewThreshold, err = r.u8("threshold"); err != nil {
		return nil, err
	}
	if p.NewThreshold == 0 {
		return nil, types.NewDecodingError(off, "account threshold must be at least 1")
	}
	return p, nil
}

func decodeConfigureBaker(r *reader) (AccountPayload, error) {
	var p ConfigureBaker
	off := r.off
	bits, err := r.u16("bitmap")
	if err != nil {
		return nil, err
	}
	if bits&^configureBakerAllBits != 0 {
		return nil, types.NewDecodingError(off, "unknown configure baker bits %#04x", bits)
	}
	if bits&configureBakerCapital != 0 {
		v, err := r.u64("capital")
		if err != nil {
			return nil, err
		}
		amount := types.Amount(v)
		p.Capital = &amount
	}
	if bits&configureBakerRestake != 0 {
		v, err := r.bool("restake earnings")
		if err != nil {
			return nil, err
		}
		p.RestakeEarnings = &v
	}
	if bits&configureBakerOpenStatus != 0 {
		off = r.off
		v, err := r.u8("open for delegation")
		if err != nil {
			return nil, err
		}
		if OpenStatus(v) > ClosedForAll {
			return nil, types.NewDecodingError(off, "unknown open status %d", v)
		}
		status := OpenStatus(v)
		p.OpenForDelegation = &status
	}
	if bits&configureBakerKeys != 0 {
		keys, err := decodeBakerKeys(r)
		if err != nil {
			return nil, err
		}
		p.Keys = &keys
	}
	if bits&configureBakerMetadataURL != 0 {
		url, err := r.bytes16("metadata url", MaxMetadataURLSize)
		if err != nil {
			return nil, err
		}
		s := string(url)
		p.MetadataURL = &s
	}
	for _, c := range []struct {
		bit  uint16
		dst  **types.PartsPerHundredThousand
		name string
	}{
		{configureBakerTransactionFee, &p.TransactionFeeCommission, "transaction fee commission"},
		{configureBakerBakingReward, &p.BakingRewardCommission, "baking reward commission"},
		{configureBakerFinalizationReward, &p.FinalizationRewardCommission, "finalization reward commission"},
	} {
		if bits&c.bit == 0 {
			continue
		}
		off = r.off
		v, err := r.u32(c.name)
		if err != nil {
			return nil, err
		}
		rate := types.PartsPerHundredThousand(v)
		if rate > types.MaxPartsPerHundredThousand {
			return nil, types.NewDecodingError(off, "%s %d out of range", c.name, v)
		}
		*c.dst = &rate
	}
	return p, nil
}

func decodeConfigureDelegation(r *reader) (AccountPayload, error) {
	var p ConfigureDelegation
	off := r.off
	bits, err := r.u16("bitmap")
	if err != nil {
		return nil, err
	}
	if bits&^configureDelegationAllBits != 0 {
		return nil, types.NewDecodingError(off, "unknown configure delegation bits %#04x", bits)
	}
	if bits&configureDelegationCapital != 0 {
		v, err := r.u64("capital")
		if err != nil {
			return nil, err
		}
		amount := types.Amount(v)
		p.Capital = &amount
	}
	if bits&configureDelegationRestake != 0 {
		v, err := r.bool("restake earnings")
		if err != nil {
			return nil, err
		}
		p.RestakeEarnings = &v
	}
	if bits&configureDelegationTarget != 0 {
		off = r.off
		tag, err := r.u8("delegation target")
		if err != nil {
			return nil, err
		}
		switch tag {
		case 0:
			p.Target = &DelegationTarget{Passive: true}
		case 1:
			id, err := r.u64("baker id")
			if err != nil {
				return nil, err
			}
			p.Target = &DelegationTarget{BakerID: id}
		default:
			return nil, types.NewDecodingError(off, "unknown delegation target %d", tag)
		}
	}
	return p, nil
}
