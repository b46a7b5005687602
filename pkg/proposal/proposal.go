package proposal

import (
	"crypto/ed25519"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/google/uuid"
)

// Slot is a signer position of a proposal: the key expected to sign at Index
type Slot struct {
	Index     types.SignatureIndex
	PublicKey ed25519.PublicKey
	Label     string
}

// Transition records one applied status change
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Proposal is a transaction collecting signatures from several signers
// until its threshold is met, then tracked through submission to a
// terminal status. It is not safe for concurrent use.
type Proposal struct {
	ID          string
	Transaction codec.Transaction
	Unsigned    []byte
	Digest      types.Hash
	Threshold   int
	Slots       []Slot
	Signatures  map[types.SignatureIndex][]byte
	Status      Status

	TransactionHash types.Hash
	SubmittedAt     time.Time
	History         []Transition
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New creates an Open proposal for tx. The canonical bytes and digest are
// computed here, before any signature can be requested.
func New(tx codec.Transaction, threshold int, slots []Slot, now time.Time) (*Proposal, error) {
	unsigned, digest, err := codec.SerializeAndDigest(tx)
	if err != nil {
		return nil, err
	}
	if err := validateSlots(tx.Family(), threshold, slots); err != nil {
		return nil, err
	}
	return &Proposal{
		ID:          uuid.NewString(),
		Transaction: tx,
		Unsigned:    unsigned,
		Digest:      digest,
		Threshold:   threshold,
		Slots:       sortSlots(slots),
		Signatures:  make(map[types.SignatureIndex][]byte),
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func validateSlots(family codec.Family, threshold int, slots []Slot) error {
	if len(slots) == 0 {
		return fmt.Errorf("a proposal needs at least one signer slot")
	}
	if threshold < 1 || threshold > len(slots) {
		return fmt.Errorf("threshold %d must be between 1 and %d", threshold, len(slots))
	}
	seen := make(map[types.SignatureIndex]bool, len(slots))
	for _, s := range slots {
		if seen[s.Index] {
			return fmt.Errorf("duplicate slot %s", s.Index)
		}
		seen[s.Index] = true
		if len(s.PublicKey) != ed25519.PublicKeySize {
			return fmt.Errorf("slot %s has a %d byte public key", s.Index, len(s.PublicKey))
		}
		switch family {
		case codec.FamilyAccount:
			if s.Index.Key > math.MaxUint8 {
				return fmt.Errorf("slot %s: account key indices must fit in 8 bits", s.Index)
			}
		case codec.FamilyUpdate:
			if s.Index.Credential != 0 {
				return fmt.Errorf("slot %s: update instructions are not signed by credentials", s.Index)
			}
		}
	}
	return nil
}

func sortSlots(slots []Slot) []Slot {
	sorted := append([]Slot(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index.Less(sorted[j].Index) })
	return sorted
}

// Family is the transaction family of the proposal
func (p *Proposal) Family() codec.Family {
	return p.Transaction.Family()
}

// Kind names the payload variant, e.g. SimpleTransfer
func (p *Proposal) Kind() string {
	switch tx := p.Transaction.(type) {
	case *codec.AccountTransaction:
		return tx.Payload.Kind().String()
	case *codec.UpdateInstruction:
		return tx.Payload.Kind().String()
	default:
		return "unknown"
	}
}

// ExpiresAt is the expiry of the underlying transaction
func (p *Proposal) ExpiresAt() types.Timestamp {
	return p.Transaction.ExpiresAt()
}

// Slot returns the slot at index
func (p *Proposal) Slot(index types.SignatureIndex) (Slot, bool) {
	for _, s := range p.Slots {
		if s.Index == index {
			return s, true
		}
	}
	return Slot{}, false
}

func (p *Proposal) SignatureCount() int {
	return len(p.Signatures)
}

func (p *Proposal) ThresholdMet() bool {
	return len(p.Signatures) >= p.Threshold
}

// MissingSlots lists the slots that have not signed yet, in slot order
func (p *Proposal) MissingSlots() []Slot {
	var missing []Slot
	for _, s := range p.Slots {
		if _, ok := p.Signatures[s.Index]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// OrderedSignatures returns the collected signatures sorted by index
func (p *Proposal) OrderedSignatures() []types.Signature {
	sigs := make([]types.Signature, 0, len(p.Signatures))
	for idx, b := range p.Signatures {
		sigs = append(sigs, types.Signature{Index: idx, Bytes: append([]byte(nil), b...)})
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Index.Less(sigs[j].Index) })
	return sigs
}

// IsTerminal reports whether the proposal reached a final status
func (p *Proposal) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// FundsRelevant reports whether the transaction may have had on-chain
// effects. Open and Closed proposals never left the wallet.
func (p *Proposal) FundsRelevant() bool {
	return p.Status != StatusOpen && p.Status != StatusClosed
}
