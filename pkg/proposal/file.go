package proposal

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DocumentVersion is the version of the proposal file format
const DocumentVersion = 1

type slotDocument struct {
	Index     types.SignatureIndex `json:"index"`
	PublicKey hexutil.Bytes        `json:"publicKey"`
	Label     string               `json:"label,omitempty"`
}

// document is the JSON form of a proposal, used both for file exchange
// between co-signers and as the persisted record
type document struct {
	Version         int               `json:"version"`
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Kind            string            `json:"kind"`
	Transaction     hexutil.Bytes     `json:"transaction"`
	Threshold       int               `json:"threshold"`
	Slots           []slotDocument    `json:"slots"`
	Signatures      []types.Signature `json:"signatures"`
	Status          Status            `json:"status"`
	Expiry          types.Timestamp   `json:"expiry"`
	Nonce           uint64            `json:"nonce"`
	TransactionHash *types.Hash       `json:"transactionHash,omitempty"`
	SubmittedAt     *time.Time        `json:"submittedAt,omitempty"`
	History         []Transition      `json:"history,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func nonceOf(tx codec.Transaction) uint64 {
	switch t := tx.(type) {
	case *codec.AccountTransaction:
		return uint64(t.Header.Nonce)
	case *codec.UpdateInstruction:
		return uint64(t.Header.SequenceNumber)
	default:
		return 0
	}
}

// MarshalJSON encodes the proposal as a versioned document
func (p *Proposal) MarshalJSON() ([]byte, error) {
	doc := document{
		Version:     DocumentVersion,
		ID:          p.ID,
		Type:        p.Family().String(),
		Kind:        p.Kind(),
		Transaction: p.Unsigned,
		Threshold:   p.Threshold,
		Signatures:  p.OrderedSignatures(),
		Status:      p.Status,
		Expiry:      p.ExpiresAt(),
		Nonce:       nonceOf(p.Transaction),
		History:     p.History,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	for _, s := range p.Slots {
		doc.Slots = append(doc.Slots, slotDocument{Index: s.Index, PublicKey: hexutil.Bytes(s.PublicKey), Label: s.Label})
	}
	if !p.TransactionHash.IsZero() {
		h := p.TransactionHash
		doc.TransactionHash = &h
	}
	if !p.SubmittedAt.IsZero() {
		at := p.SubmittedAt
		doc.SubmittedAt = &at
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a document. The transaction bytes are decoded
// again and every signature is verified against the recomputed digest, so
// a tampered file cannot smuggle in signatures for another transaction.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Version != DocumentVersion {
		return fmt.Errorf("unsupported proposal document version %d", doc.Version)
	}
	family, err := codec.ParseFamily(doc.Type)
	if err != nil {
		return err
	}
	status, err := ParseStatus(string(doc.Status))
	if err != nil {
		return err
	}
	tx, err := codec.Deserialize(family, doc.Transaction)
	if err != nil {
		return fmt.Errorf("invalid transaction in proposal document: %w", err)
	}
	unsigned, digest, err := codec.SerializeAndDigest(tx)
	if err != nil {
		return err
	}
	if !bytes.Equal(unsigned, doc.Transaction) {
		return fmt.Errorf("transaction bytes are not in canonical form")
	}
	if doc.Expiry != tx.ExpiresAt() || doc.Nonce != nonceOf(tx) {
		return fmt.Errorf("document expiry or nonce does not match the transaction")
	}

	slots := make([]Slot, 0, len(doc.Slots))
	for _, s := range doc.Slots {
		slots = append(slots, Slot{Index: s.Index, PublicKey: ed25519.PublicKey(s.PublicKey), Label: s.Label})
	}
	if err := validateSlots(family, doc.Threshold, slots); err != nil {
		return err
	}

	out := Proposal{
		ID:          doc.ID,
		Transaction: tx,
		Unsigned:    unsigned,
		Digest:      digest,
		Threshold:   doc.Threshold,
		Slots:       sortSlots(slots),
		Signatures:  make(map[types.SignatureIndex][]byte, len(doc.Signatures)),
		Status:      status,
		History:     doc.History,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if out.ID == "" {
		return fmt.Errorf("proposal document has no id")
	}
	for _, sig := range doc.Signatures {
		slot, ok := out.Slot(sig.Index)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrUnknownSlot, sig.Index)
		}
		if !ed25519.Verify(slot.PublicKey, digest[:], sig.Bytes) {
			return &types.InvalidSignatureError{Index: sig.Index, Digest: digest, Reason: "signature in document does not verify"}
		}
		if _, dup := out.Signatures[sig.Index]; dup {
			return fmt.Errorf("duplicate signature for %s", sig.Index)
		}
		out.Signatures[sig.Index] = sig.Bytes
	}
	if status != StatusOpen && status != StatusClosed && !out.ThresholdMet() {
		return fmt.Errorf("%s proposal has %d of %d signatures", status, len(out.Signatures), out.Threshold)
	}
	if doc.TransactionHash != nil {
		out.TransactionHash = *doc.TransactionHash
	}
	if doc.SubmittedAt != nil {
		out.SubmittedAt = *doc.SubmittedAt
	}
	*p = out
	return nil
}

// Export writes the proposal document to w
func (p *Proposal) Export(w io.Writer) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write proposal: %w", err)
	}
	return nil
}

// Import reads a proposal document from r
func Import(r io.Reader) (*Proposal, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read proposal: %w", err)
	}
	p := &Proposal{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to import proposal: %w", err)
	}
	return p, nil
}

// MergeSignatures folds the signatures of another copy of the same
// proposal, typically one a co-signer returned, into p. It returns the
// number of signatures added.
func (p *Proposal) MergeSignatures(other *Proposal, now time.Time) (int, error) {
	if other.Digest != p.Digest {
		return 0, fmt.Errorf("cannot merge signatures over digest %s into a proposal with digest %s", other.Digest, p.Digest)
	}
	added := 0
	for _, sig := range other.OrderedSignatures() {
		if _, ok := p.Signatures[sig.Index]; ok {
			continue
		}
		if err := p.AddSignature(sig, now); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
