package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(b byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func testHeader() AccountTransactionHeader {
	return AccountTransactionHeader{
		Sender: testAddress(0xAA),
		Nonce:  7,
		Energy: 501,
		Expiry: 1_700_000_000,
	}
}

func ptr[T any](v T) *T { return &v }

func testBakerKeys() BakerKeys {
	var k BakerKeys
	k.ElectionVerifyKey[0] = 1
	k.ElectionProof[0] = 2
	k.SignatureVerifyKey[0] = 3
	k.SignatureProof[0] = 4
	k.AggregationVerifyKey[0] = 5
	k.AggregationProof[63] = 6
	return k
}

func accountPayloads() map[string]AccountPayload {
	return map[string]AccountPayload{
		"simple transfer": SimpleTransfer{To: testAddress(0x01), Amount: 1_000_000},
		"transfer with memo": TransferWithMemo{
			To:     testAddress(0x02),
			Memo:   []byte("invoice 42"),
			Amount: 5,
		},
		"transfer with schedule": TransferWithSchedule{
			To: testAddress(0x03),
			Schedule: []ScheduledRelease{
				{Timestamp: 1_700_000_100, Amount: 10},
				{Timestamp: 1_700_000_200, Amount: 20},
			},
		},
		"add baker":    AddBaker{Keys: testBakerKeys(), Stake: 14_000_000_000, RestakeEarnings: true},
		"remove baker": RemoveBaker{},
		"update credentials": UpdateCredentials{
			NewCredentials:      []CredentialDeployment{{Index: 2, Data: []byte{0xde, 0xad, 0xbe, 0xef}}},
			RemoveCredentialIDs: [][CredentialIDSize]byte{{1, 2, 3}},
			NewThreshold:        2,
		},
		"register data":            RegisterData{Data: []byte{0x01, 0x02}},
		"register empty data":      RegisterData{},
		"transfer with empty memo": TransferWithMemo{To: testAddress(0x05), Amount: 9},
		"configure baker all fields": ConfigureBaker{
			Capital:                      ptr(types.Amount(50_000)),
			RestakeEarnings:              ptr(false),
			OpenForDelegation:            ptr(ClosedForNew),
			Keys:                         ptr(testBakerKeys()),
			MetadataURL:                  ptr(""),
			TransactionFeeCommission:     ptr(types.PartsPerHundredThousand(10_000)),
			BakingRewardCommission:       ptr(types.PartsPerHundredThousand(100_000)),
			FinalizationRewardCommission: ptr(types.PartsPerHundredThousand(0)),
		},
		"configure baker remove": ConfigureBaker{Capital: ptr(types.Amount(0))},
		"configure delegation passive": ConfigureDelegation{
			Capital: ptr(types.Amount(1)),
			Target:  &DelegationTarget{Passive: true},
		},
		"configure delegation baker": ConfigureDelegation{
			RestakeEarnings: ptr(true),
			Target:          &DelegationTarget{BakerID: 42},
		},
	}
}

func updatePayloads() map[string]UpdatePayload {
	return map[string]UpdatePayload{
		"protocol": ProtocolUpdate{
			Message:           "P5",
			SpecificationURL:  "https://example.org/p5.md",
			SpecificationHash: types.Hash{0x11},
			AuxiliaryData:     []byte{0x00, 0x01},
		},
		"protocol without auxiliary data": ProtocolUpdate{
			Message:           "P6",
			SpecificationURL:  "https://example.org/p6.md",
			SpecificationHash: types.Hash{0x12},
		},
		"election difficulty": ElectionDifficultyUpdate{Difficulty: 25_000},
		"euro per energy":     EuroPerEnergyUpdate{Rate: types.ExchangeRate{Numerator: 1, Denominator: 50_000}},
		"micro ccd per euro":  MicroCCDPerEuroUpdate{Rate: types.ExchangeRate{Numerator: 500_000, Denominator: 1}},
		"foundation account":  FoundationAccountUpdate{Account: testAddress(0x0F)},
		"mint distribution": MintDistributionUpdate{
			MintPerSlotMantissa: 7555,
			MintPerSlotExponent: 12,
			BakingReward:        60_000,
			FinalizationReward:  30_000,
		},
		"transaction fee distribution": TransactionFeeDistributionUpdate{Baker: 45_000, GasAccount: 55_000},
		"gas rewards": GasRewardsUpdate{
			Baker:             25_000,
			FinalizationProof: 50,
			AccountCreation:   2_000,
			ChainUpdate:       5,
		},
		"baker stake threshold": BakerStakeThresholdUpdate{Threshold: 15_000_000_000},
		"root keys": RootKeysUpdate{Keys: HigherLevelKeys{
			Keys:      []VerifyKey{{Key: [32]byte{1}}, {Key: [32]byte{2}}},
			Threshold: 2,
		}},
		"level 1 keys": Level1KeysUpdate{Keys: HigherLevelKeys{
			Keys:      []VerifyKey{{Key: [32]byte{3}}},
			Threshold: 1,
		}},
	}
}

func TestAccountTransaction_RoundTrip(t *testing.T) {
	for name, payload := range accountPayloads() {
		t.Run(name, func(t *testing.T) {
			tx := &AccountTransaction{Header: testHeader(), Payload: payload}
			b, err := Serialize(tx)
			require.NoError(t, err)

			decoded, err := DeserializeAccountTransaction(b)
			require.NoError(t, err)
			assert.Equal(t, tx, decoded)

			again, err := Serialize(decoded)
			require.NoError(t, err)
			assert.Equal(t, b, again)
		})
	}
}

func TestUpdateInstruction_RoundTrip(t *testing.T) {
	for name, payload := range updatePayloads() {
		t.Run(name, func(t *testing.T) {
			u := &UpdateInstruction{
				Header:  UpdateHeader{SequenceNumber: 3, EffectiveTime: 2_000, Timeout: 1_000},
				Payload: payload,
			}
			b, err := Serialize(u)
			require.NoError(t, err)

			decoded, err := Deserialize(FamilyUpdate, b)
			require.NoError(t, err)
			assert.Equal(t, u, decoded)
		})
	}
}

func TestSerialize_SimpleTransferLayout(t *testing.T) {
	tx := &AccountTransaction{
		Header:  testHeader(),
		Payload: SimpleTransfer{To: testAddress(0x01), Amount: 1_000_000},
	}
	b, err := Serialize(tx)
	require.NoError(t, err)

	expected := &bytes.Buffer{}
	expected.Write(bytes.Repeat([]byte{0xAA}, 32))
	_ = binary.Write(expected, binary.BigEndian, uint64(7))
	_ = binary.Write(expected, binary.BigEndian, uint64(501))
	_ = binary.Write(expected, binary.BigEndian, uint32(41))
	_ = binary.Write(expected, binary.BigEndian, uint64(1_700_000_000))
	expected.WriteByte(3)
	expected.Write(bytes.Repeat([]byte{0x01}, 32))
	_ = binary.Write(expected, binary.BigEndian, uint64(1_000_000))

	assert.Equal(t, expected.Bytes(), b)
	assert.Len(t, b, AccountHeaderSize+41)
	assert.Equal(t, types.Hash(sha256.Sum256(expected.Bytes())), Digest(b))
}

func TestDigest_Stable(t *testing.T) {
	tx := &AccountTransaction{Header: testHeader(), Payload: RegisterData{Data: []byte("x")}}
	_, d1, err := SerializeAndDigest(tx)
	require.NoError(t, err)
	_, d2, err := SerializeAndDigest(tx)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	tx.Header.Nonce++
	_, d3, err := SerializeAndDigest(tx)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestSerialize_EncodingErrors(t *testing.T) {
	tests := []struct {
		name  string
		tx    Transaction
		field string
	}{
		{
			name:  "zero nonce",
			tx:    &AccountTransaction{Header: AccountTransactionHeader{}, Payload: RemoveBaker{}},
			field: "nonce",
		},
		{
			name:  "memo too long",
			tx:    &AccountTransaction{Header: testHeader(), Payload: TransferWithMemo{Memo: make([]byte, MaxMemoSize+1)}},
			field: "memo",
		},
		{
			name: "schedule not increasing",
			tx: &AccountTransaction{Header: testHeader(), Payload: TransferWithSchedule{Schedule: []ScheduledRelease{
				{Timestamp: 20, Amount: 1}, {Timestamp: 10, Amount: 1},
			}}},
			field: "schedule",
		},
		{
			name:  "empty schedule",
			tx:    &AccountTransaction{Header: testHeader(), Payload: TransferWithSchedule{}},
			field: "schedule",
		},
		{
			name:  "schedule too long",
			tx:    &AccountTransaction{Header: testHeader(), Payload: TransferWithSchedule{Schedule: longSchedule(256)}},
			field: "schedule",
		},
		{
			name: "passive delegation naming a validator",
			tx: &AccountTransaction{Header: testHeader(), Payload: ConfigureDelegation{
				Target: &DelegationTarget{Passive: true, BakerID: 9},
			}},
			field: "delegation target",
		},
		{
			name:  "register data too long",
			tx:    &AccountTransaction{Header: testHeader(), Payload: RegisterData{Data: make([]byte, MaxRegisteredData+1)}},
			field: "data",
		},
		{
			name: "commission out of range",
			tx: &AccountTransaction{Header: testHeader(), Payload: ConfigureBaker{
				BakingRewardCommission: ptr(types.PartsPerHundredThousand(100_001)),
			}},
			field: "baking reward commission",
		},
		{
			name:  "zero account threshold",
			tx:    &AccountTransaction{Header: testHeader(), Payload: UpdateCredentials{}},
			field: "threshold",
		},
		{
			name:  "zero stake",
			tx:    &AccountTransaction{Header: testHeader(), Payload: AddBaker{}},
			field: "stake",
		},
		{
			name:  "missing payload",
			tx:    &AccountTransaction{Header: testHeader()},
			field: "payload",
		},
		{
			name: "exchange rate zero",
			tx: &UpdateInstruction{Payload: EuroPerEnergyUpdate{
				Rate: types.ExchangeRate{Numerator: 0, Denominator: 1},
			}},
			field: "euro per energy",
		},
		{
			name:  "mint shares exceed one",
			tx:    &UpdateInstruction{Payload: MintDistributionUpdate{BakingReward: 60_000, FinalizationReward: 50_000}},
			field: "mint distribution",
		},
		{
			name:  "difficulty out of range",
			tx:    &UpdateInstruction{Payload: ElectionDifficultyUpdate{Difficulty: 100_001}},
			field: "election difficulty",
		},
		{
			name: "timeout after effective time",
			tx: &UpdateInstruction{
				Header:  UpdateHeader{EffectiveTime: 100, Timeout: 100},
				Payload: BakerStakeThresholdUpdate{Threshold: 1},
			},
			field: "timeout",
		},
		{
			name:  "key threshold above key count",
			tx:    &UpdateInstruction{Payload: RootKeysUpdate{Keys: HigherLevelKeys{Keys: []VerifyKey{{}}, Threshold: 2}}},
			field: "root keys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Serialize(tt.tx)
			require.Error(t, err)
			var encErr *types.EncodingError
			require.True(t, errors.As(err, &encErr), "expected EncodingError, got %T", err)
			assert.Equal(t, tt.field, encErr.Field)
		})
	}
}

func longSchedule(n int) []ScheduledRelease {
	s := make([]ScheduledRelease, n)
	for i := range s {
		s[i] = ScheduledRelease{Timestamp: types.Timestamp(i + 1), Amount: 1}
	}
	return s
}

func TestDeserialize_TruncatedInput(t *testing.T) {
	for name, payload := range accountPayloads() {
		t.Run(name, func(t *testing.T) {
			b, err := Serialize(&AccountTransaction{Header: testHeader(), Payload: payload})
			require.NoError(t, err)
			for i := 0; i < len(b); i++ {
				_, err := DeserializeAccountTransaction(b[:i])
				var decErr *types.DecodingError
				require.True(t, errors.As(err, &decErr), "prefix %d: expected DecodingError, got %v", i, err)
			}
		})
	}
}

func TestDeserialize_RejectsMalformed(t *testing.T) {
	valid, err := Serialize(&AccountTransaction{
		Header:  testHeader(),
		Payload: ConfigureDelegation{RestakeEarnings: ptr(true)},
	})
	require.NoError(t, err)

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := DeserializeAccountTransaction(append(append([]byte{}, valid...), 0x00))
		var decErr *types.DecodingError
		require.True(t, errors.As(err, &decErr))
	})

	t.Run("unknown kind", func(t *testing.T) {
		b := append([]byte{}, valid...)
		b[AccountHeaderSize] = 0xFE
		_, err := DeserializeAccountTransaction(b)
		var decErr *types.DecodingError
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, AccountHeaderSize, decErr.Offset)
		assert.Contains(t, decErr.Reason, "unknown account transaction kind")
	})

	t.Run("invalid boolean", func(t *testing.T) {
		b := append([]byte{}, valid...)
		b[len(b)-1] = 2
		_, err := DeserializeAccountTransaction(b)
		var decErr *types.DecodingError
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, len(b)-1, decErr.Offset)
	})

	t.Run("unknown bitmap bit", func(t *testing.T) {
		b := append([]byte{}, valid...)
		b[AccountHeaderSize+1] = 0x80
		_, err := DeserializeAccountTransaction(b)
		var decErr *types.DecodingError
		require.True(t, errors.As(err, &decErr))
	})

	t.Run("payload size mismatch", func(t *testing.T) {
		b := append([]byte{}, valid...)
		binary.BigEndian.PutUint32(b[48:52], 99)
		_, err := DeserializeAccountTransaction(b)
		var decErr *types.DecodingError
		require.True(t, errors.As(err, &decErr))
	})

	t.Run("unknown family", func(t *testing.T) {
		_, err := Deserialize(Family(9), valid)
		var decErr *types.DecodingError
		require.True(t, errors.As(err, &decErr))
	})
}

func TestDeserialize_ScheduleOrderEnforced(t *testing.T) {
	b, err := Serialize(&AccountTransaction{Header: testHeader(), Payload: TransferWithSchedule{
		To:       testAddress(1),
		Schedule: []ScheduledRelease{{Timestamp: 10, Amount: 1}, {Timestamp: 20, Amount: 2}},
	}})
	require.NoError(t, err)

	// swap the two timestamps in place
	first := AccountHeaderSize + 1 + 32 + 1
	second := first + 16
	binary.BigEndian.PutUint64(b[first:], 20)
	binary.BigEndian.PutUint64(b[second:], 10)

	_, err = DeserializeAccountTransaction(b)
	var decErr *types.DecodingError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, second, decErr.Offset)
}

func TestSerializePayload(t *testing.T) {
	b, err := SerializePayload(SimpleTransfer{To: testAddress(9), Amount: 3})
	require.NoError(t, err)
	p, err := DeserializeAccountPayload(b)
	require.NoError(t, err)
	assert.Equal(t, SimpleTransfer{To: testAddress(9), Amount: 3}, p)

	b, err = SerializePayload(BakerStakeThresholdUpdate{Threshold: 8})
	require.NoError(t, err)
	u, err := DeserializeUpdatePayload(b)
	require.NoError(t, err)
	assert.Equal(t, BakerStakeThresholdUpdate{Threshold: 8}, u)

	_, err = SerializePayload("not a payload")
	require.Error(t, err)
}

func TestFamily_ParseRoundTrip(t *testing.T) {
	for _, f := range []Family{FamilyAccount, FamilyUpdate} {
		parsed, err := ParseFamily(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	_, err := ParseFamily("block")
	assert.Error(t, err)
}
