package codec

import (
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/types"
)

// UpdateKind is the discriminator byte that starts every update instruction payload
type UpdateKind uint8

const (
	KindProtocolUpdate                   UpdateKind = 1
	KindElectionDifficultyUpdate         UpdateKind = 2
	KindEuroPerEnergyUpdate              UpdateKind = 3
	KindMicroCCDPerEuroUpdate            UpdateKind = 4
	KindFoundationAccountUpdate          UpdateKind = 5
	KindMintDistributionUpdate           UpdateKind = 6
	KindTransactionFeeDistributionUpdate UpdateKind = 7
	KindGasRewardsUpdate                 UpdateKind = 8
	KindBakerStakeThresholdUpdate        UpdateKind = 9
	KindRootKeysUpdate                   UpdateKind = 10
	KindLevel1KeysUpdate                 UpdateKind = 11
)

var updateKindNames = map[UpdateKind]string{
	KindProtocolUpdate:                   "ProtocolUpdate",
	KindElectionDifficultyUpdate:         "ElectionDifficultyUpdate",
	KindEuroPerEnergyUpdate:              "EuroPerEnergyUpdate",
	KindMicroCCDPerEuroUpdate:            "MicroCCDPerEuroUpdate",
	KindFoundationAccountUpdate:          "FoundationAccountUpdate",
	KindMintDistributionUpdate:           "MintDistributionUpdate",
	KindTransactionFeeDistributionUpdate: "TransactionFeeDistributionUpdate",
	KindGasRewardsUpdate:                 "GasRewardsUpdate",
	KindBakerStakeThresholdUpdate:        "BakerStakeThresholdUpdate",
	KindRootKeysUpdate:                   "RootKeysUpdate",
	KindLevel1KeysUpdate:                 "Level1KeysUpdate",
}

func (k UpdateKind) String() string {
	if name, ok := updateKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UpdateKind(%d)", uint8(k))
}

// SchemeEd25519 is the only verification key scheme in use
const SchemeEd25519 uint8 = 0

// UpdatePayload is one of the chain update payload variants. The set is
// closed: only types in this package implement it.
type UpdatePayload interface {
	Kind() UpdateKind
	encode(w *writer) error
}

// ProtocolUpdate announces a new protocol version
type ProtocolUpdate struct {
	Message           string
	SpecificationURL  string
	SpecificationHash types.Hash
	AuxiliaryData     []byte
}

func (ProtocolUpdate) Kind() UpdateKind { return KindProtocolUpdate }

func (p ProtocolUpdate) encode(w *writer) error {
	w.bytes64([]byte(p.Message))
	w.bytes64([]byte(p.SpecificationURL))
	w.raw(p.SpecificationHash[:])
	w.bytes64(p.AuxiliaryData)
	return nil
}

// ElectionDifficultyUpdate sets the leader election difficulty
type ElectionDifficultyUpdate struct {
	Difficulty types.PartsPerHundredThousand
}

func (ElectionDifficultyUpdate) Kind() UpdateKind { return KindElectionDifficultyUpdate }

func (p ElectionDifficultyUpdate) encode(w *writer) error {
	if err := p.Difficulty.Validate("election difficulty"); err != nil {
		return err
	}
	w.u32(uint32(p.Difficulty))
	return nil
}

// EuroPerEnergyUpdate sets the euro price of one unit of energy
type EuroPerEnergyUpdate struct {
	Rate types.ExchangeRate
}

func (EuroPerEnergyUpdate) Kind() UpdateKind { return KindEuroPerEnergyUpdate }

func (p EuroPerEnergyUpdate) encode(w *writer) error {
	return encodeExchangeRate(w, "euro per energy", p.Rate)
}

// MicroCCDPerEuroUpdate sets the micro-CCD price of one euro
type MicroCCDPerEuroUpdate struct {
	Rate types.ExchangeRate
}

func (MicroCCDPerEuroUpdate) Kind() UpdateKind { return KindMicroCCDPerEuroUpdate }

func (p MicroCCDPerEuroUpdate) encode(w *writer) error {
	return encodeExchangeRate(w, "micro CCD per euro", p.Rate)
}

func encodeExchangeRate(w *writer, field string, r types.ExchangeRate) error {
	if err := r.Validate(field); err != nil {
		return err
	}
	w.u64(r.Numerator)
	w.u64(r.Denominator)
	return nil
}

// FoundationAccountUpdate changes the account receiving the foundation share
type FoundationAccountUpdate struct {
	Account types.Address
}

func (FoundationAccountUpdate) Kind() UpdateKind { return KindFoundationAccountUpdate }

func (p FoundationAccountUpdate) encode(w *writer) error {
	w.raw(p.Account[:])
	return nil
}

// MintDistributionUpdate sets the mint rate (Mantissa * 10^-Exponent per
// slot) and how newly minted CCD is split. The remainder goes to the
// foundation.
type MintDistributionUpdate struct {
	MintPerSlotMantissa uint32
	MintPerSlotExponent uint8
	BakingReward        types.PartsPerHundredThousand
	FinalizationReward  types.PartsPerHundredThousand
}

func (MintDistributionUpdate) Kind() UpdateKind { return KindMintDistributionUpdate }

func (p MintDistributionUpdate) encode(w *writer) error {
	if err := checkShares("mint distribution", p.BakingReward, p.FinalizationReward); err != nil {
		return err
	}
	w.u32(p.MintPerSlotMantissa)
	w.u8(p.MintPerSlotExponent)
	w.u32(uint32(p.BakingReward))
	w.u32(uint32(p.FinalizationReward))
	return nil
}

// TransactionFeeDistributionUpdate splits transaction fees between the
// validator and the GAS account
type TransactionFeeDistributionUpdate struct {
	Baker      types.PartsPerHundredThousand
	GasAccount types.PartsPerHundredThousand
}

func (TransactionFeeDistributionUpdate) Kind() UpdateKind {
	return KindTransactionFeeDistributionUpdate
}

func (p TransactionFeeDistributionUpdate) encode(w *writer) error {
	if err := checkShares("transaction fee distribution", p.Baker, p.GasAccount); err != nil {
		return err
	}
	w.u32(uint32(p.Baker))
	w.u32(uint32(p.GasAccount))
	return nil
}

// GasRewardsUpdate sets the fractions of the GAS account paid out per block
type GasRewardsUpdate struct {
	Baker             types.PartsPerHundredThousand
	FinalizationProof types.PartsPerHundredThousand
	AccountCreation   types.PartsPerHundredThousand
	ChainUpdate       types.PartsPerHundredThousand
}

func (GasRewardsUpdate) Kind() UpdateKind { return KindGasRewardsUpdate }

func (p GasRewardsUpdate) encode(w *writer) error {
	shares := []types.PartsPerHundredThousand{p.Baker, p.FinalizationProof, p.AccountCreation, p.ChainUpdate}
	for _, s := range shares {
		if err := s.Validate("gas rewards"); err != nil {
			return err
		}
	}
	for _, s := range shares {
		w.u32(uint32(s))
	}
	return nil
}

// BakerStakeThresholdUpdate sets the minimum stake required to be a validator
type BakerStakeThresholdUpdate struct {
	Threshold types.Amount
}

func (BakerStakeThresholdUpdate) Kind() UpdateKind { return KindBakerStakeThresholdUpdate }

func (p BakerStakeThresholdUpdate) encode(w *writer) error {
	w.u64(uint64(p.Threshold))
	return nil
}

// VerifyKey is a public key of an update authorization
type VerifyKey struct {
	Scheme uint8
	Key    [32]byte
}

// HigherLevelKeys is a replacement key set with its signature threshold
type HigherLevelKeys struct {
	Keys      []VerifyKey
	Threshold uint16
}

func (k HigherLevelKeys) encode(w *writer, field string) error {
	if len(k.Keys) == 0 {
		return types.NewEncodingError(field, "at least one key is required")
	}
	if k.Threshold == 0 || int(k.Threshold) > len(k.Keys) {
		return types.NewEncodingError(field, "threshold %d must be between 1 and %d", k.Threshold, len(k.Keys))
	}
	if err := w.count16(field, len(k.Keys)); err != nil {
		return err
	}
	for i, key := range k.Keys {
		if key.Scheme != SchemeEd25519 {
			return types.NewEncodingError(field, "key %d has unsupported scheme %d", i, key.Scheme)
		}
		w.u8(key.Scheme)
		w.raw(key.Key[:])
	}
	w.u16(k.Threshold)
	return nil
}

func decodeHigherLevelKeys(r *reader) (HigherLevelKeys, error) {
	var k HigherLevelKeys
	off := r.off
	n, err := r.u16("key count")
	if err != nil {
		return k, err
	}
	if n == 0 {
		return k, types.NewDecodingError(off, "empty key set")
	}
	for i := 0; i < int(n); i++ {
		off = r.off
		scheme, err := r.u8("key scheme")
		if err != nil {
			return k, err
		}
		if scheme != SchemeEd25519 {
			return k, types.NewDecodingError(off, "key %d has unsupported scheme %d", i, scheme)
		}
		key := VerifyKey{Scheme: scheme}
		if err := r.fixed(key.Key[:], "verify key"); err != nil {
			return k, err
		}
		k.Keys = append(k.Keys, key)
	}
	off = r.off
	if k.Threshold, err = r.u16("threshold"); err != nil {
		return k, err
	}
	if k.Threshold == 0 || k.Threshold > n {
		return k, types.NewDecodingError(off, "threshold %d must be between 1 and %d", k.Threshold, n)
	}
	return k, nil
}

// RootKeysUpdate replaces the root key set
type RootKeysUpdate struct {
	Keys HigherLevelKeys
}

func (RootKeysUpdate) Kind() UpdateKind { return KindRootKeysUpdate }

func (p RootKeysUpdate) encode(w *writer) error {
	return p.Keys.encode(w, "root keys")
}

// Level1KeysUpdate replaces the level 1 key set
type Level1KeysUpdate struct {
	Keys HigherLevelKeys
}

func (Level1KeysUpdate) Kind() UpdateKind { return KindLevel1KeysUpdate }

func (p Level1KeysUpdate) encode(w *writer) error {
	return p.Keys.encode(w, "level 1 keys")
}

func checkShares(field string, shares ...types.PartsPerHundredThousand) error {
	var sum uint64
	for _, s := range shares {
		if err := s.Validate(field); err != nil {
			return err
		}
		sum += uint64(s)
	}
	if sum > types.MaxPartsPerHundredThousand {
		return types.NewEncodingError(field, "shares sum to %d, more than %d", sum, types.MaxPartsPerHundredThousand)
	}
	return nil
}

func encodeUpdatePayload(p UpdatePayload) ([]byte, error) {
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

func decodeUpdatePayload(data []byte) (UpdatePayload, error) {
	r := newReader(data)
	tag, err := r.u8("update kind")
	if err != nil {
		return nil, err
	}

	var p UpdatePayload
	switch UpdateKind(tag) {
	case KindProtocolUpdate:
		p, err = decodeProtocolUpdate(r)
	case KindElectionDifficultyUpdate:
		var v types.PartsPerHundredThousand
		v, err = readShare(r, "election difficulty")
		p = ElectionDifficultyUpdate{Difficulty: v}
	case KindEuroPerEnergyUpdate:
		var rate types.ExchangeRate
		rate, err = readExchangeRate(r)
		p = EuroPerEnergyUpdate{Rate: rate}
	case KindMicroCCDPerEuroUpdate:
		var rate types.ExchangeRate
		rate, err = readExchangeRate(r)
		p = MicroCCDPerEuroUpdate{Rate: rate}
	case KindFoundationAccountUpdate:
		var addr types.Address
		addr, err = r.address("foundation account")
		p = FoundationAccountUpdate{Account: addr}
	case KindMintDistributionUpdate:
		p, err = decodeMintDistribution(r)
	case KindTransactionFeeDistributionUpdate:
		p, err = decodeTransactionFeeDistribution(r)
	case KindGasRewardsUpdate:
		p, err = decodeGasRewards(r)
	case KindBakerStakeThresholdUpdate:
		var v uint64
		v, err = r.u64("baker stake threshold")
		p = BakerStakeThresholdUpdate{Threshold: types.Amount(v)}
	case KindRootKeysUpdate:
		var keys HigherLevelKeys
		keys, err = decodeHigherLevelKeys(r)
		p = RootKeysUpdate{Keys: keys}
	case KindLevel1KeysUpdate:
		var keys HigherLevelKeys
		keys, err = decodeHigherLevelKeys(r)
		p = Level1KeysUpdate{Keys: keys}
	default:
		return nil, types.NewDecodingError(0, "unknown update kind %d", tag)
	}
	if err != nil {
		return nil, err
	}
	if err := r.done("payload " + UpdateKind(tag).String()); err != nil {
		return nil, err
	}
	return p, nil
}

func readShare(r *reader, what string) (types.PartsPerHundredThousand, error) {
	off := r.off
	v, err := r.u32(what)
	if err != nil {
		return 0, err
	}
	if v > types.MaxPartsPerHundredThousand {
		return 0, types.NewDecodingError(off, "%s %d out of range", what, v)
	}
	return types.PartsPerHundredThousand(v), nil
}

func readExchangeRate(r *reader) (types.ExchangeRate, error) {
	var rate types.ExchangeRate
	off := r.off
	var err error
	if rate.Numerator, err = r.u64("exchange rate numerator"); err != nil {
		return rate, err
	}
	if rate.Denominator, err = r.u64("exchange rate denominator"); err != nil {
		return rate, err
	}
	if rate.Numerator == 0 || rate.Denominator == 0 {
		return rate, types.NewDecodingError(off, "exchange rate %d/%d has a zero component", rate.Numerator, rate.Denominator)
	}
	return rate, nil
}

func decodeProtocolUpdate(r *reader) (UpdatePayload, error) {
	var p ProtocolUpdate
	msg, err := r.bytes64("message")
	if err != nil {
		return nil, err
	}
	url, err := r.bytes64("specification url")
	if err != nil {
		return nil, err
	}
	if err := r.fixed(p.SpecificationHash[:], "specification hash"); err != nil {
		return nil, err
	}
	if p.AuxiliaryData, err = r.bytes64("auxiliary data"); err != nil {
		return nil, err
	}
	p.Message = string(msg)
	p.SpecificationURL = string(url)
	return p, nil
}

func decodeMintDistribution(r *reader) (UpdatePayload, error) {
	var p MintDistributionUpdate
	var err error
	if p.MintPerSlotMantissa, err = r.u32("mint mantissa"); err != nil {
		return nil, err
	}
	if p.MintPerSlotExponent, err = r.u8("mint exponent"); err != nil {
		return nil, err
	}
	off := r.off
	if p.BakingReward, err = readShare(r, "baking reward"); err != nil {
		return nil, err
	}
	if p.FinalizationReward, err = readShare(r, "finalization reward"); err != nil {
		return nil, err
	}
	if uint64(p.BakingReward)+uint64(p.FinalizationReward) > types.MaxPartsPerHundredThousand {
		return nil, types.NewDecodingError(off, "mint distribution shares exceed %d", types.MaxPartsPerHundredThousand)
	}
	return p, nil
}

func decodeTransactionFeeDistribution(r *reader) (UpdatePayload, error) {
	var p TransactionFeeDistributionUpdate
	var err error
	off := r.off
	if p.Baker, err = readShare(r, "baker fee share"); err != nil {
		return nil, err
	}
	if p.GasAccount, err = readShare(r, "gas account fee share"); err != nil {
		return nil, err
	}
	if uint64(p.Baker)+uint64(p.GasAccount) > types.MaxPartsPerHundredThousand {
		return nil, types.NewDecodingError(off, "fee distribution shares exceed %d", types.MaxPartsPerHundredThousand)
	}
	return p, nil
}

func decodeGasRewards(r *reader) (UpdatePayload, error) {
	var p GasRewardsUpdate
	for _, f := range []struct {
		dst  *types.PartsPerHundredThousand
		name string
	}{
		{&p.Baker, "baker gas reward"},
		{&p.FinalizationProof, "finalization proof gas reward"},
		{&p.AccountCreation, "account creation gas reward"},
		{&p.ChainUpdate, "chain update gas reward"},
	} {
		v, err := readShare(r, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return p, nil
}
