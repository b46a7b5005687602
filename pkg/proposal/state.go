package proposal

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/types"
)

// Status is the lifecycle position of a proposal
type Status string

const (
	StatusOpen      Status = "open"
	StatusSubmitted Status = "submitted"
	StatusFinalized Status = "finalized"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
	StatusClosed    Status = "closed"
)

var transitions = map[Status][]Status{
	StatusOpen:      {StatusSubmitted, StatusClosed},
	StatusSubmitted: {StatusFinalized, StatusRejected, StatusExpired, StatusFailed},
}

// ParseStatus validates a status name
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusSubmitted, StatusFinalized, StatusRejected, StatusExpired, StatusFailed, StatusClosed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown proposal status %q", s)
	}
}

// IsTerminal reports whether no transition leaves s
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func canTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition is the only place the status changes
func (p *Proposal) transition(to Status, reason string, now time.Time) error {
	if !canTransition(p.Status, to) {
		return &types.TransitionError{From: string(p.Status), To: string(to)}
	}
	p.History = append(p.History, Transition{From: p.Status, To: to, At: now, Reason: reason})
	p.Status = to
	p.UpdatedAt = now
	return nil
}

// Outcome is what the chain reported for a submitted transaction
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeFinalized
	OutcomeRejected
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeFinalized:
		return "finalized"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// AddSignature verifies sig against the proposal digest and the slot's
// public key and records it. Adding a signature to a slot that already has
// one is a no-op.
func (p *Proposal) AddSignature(sig types.Signature, now time.Time) error {
	if p.Status != StatusOpen {
		return fmt.Errorf("cannot add a signature to a %s proposal", p.Status)
	}
	if p.ExpiresAt().HasPassed(now) {
		return types.ErrProposalExpired
	}
	slot, ok := p.Slot(sig.Index)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownSlot, sig.Index)
	}
	if existing, ok := p.Signatures[sig.Index]; ok {
		if !bytes.Equal(existing, sig.Bytes) && !ed25519.Verify(slot.PublicKey, p.Digest[:], sig.Bytes) {
			return &types.InvalidSignatureError{Index: sig.Index, Digest: p.Digest, Reason: "signature does not verify"}
		}
		return nil
	}
	if len(sig.Bytes) != ed25519.SignatureSize {
		return &types.InvalidSignatureError{Index: sig.Index, Digest: p.Digest, Reason: fmt.Sprintf("signature has %d bytes", len(sig.Bytes))}
	}
	if !ed25519.Verify(slot.PublicKey, p.Digest[:], sig.Bytes) {
		return &types.InvalidSignatureError{Index: sig.Index, Digest: p.Digest, Reason: "signature does not verify"}
	}
	p.Signatures[sig.Index] = append([]byte(nil), sig.Bytes...)
	p.UpdatedAt = now
	return nil
}

// ReplaceTransaction swaps the transaction of an Open proposal. Once any
// signature exists the transaction is frozen.
func (p *Proposal) ReplaceTransaction(tx codec.Transaction, now time.Time) error {
	if p.Status != StatusOpen {
		return fmt.Errorf("cannot change the transaction of a %s proposal", p.Status)
	}
	if len(p.Signatures) > 0 {
		return types.ErrPayloadFrozen
	}
	if tx.Family() != p.Family() {
		return fmt.Errorf("cannot replace a %s transaction with a %s transaction", p.Family(), tx.Family())
	}
	unsigned, digest, err := codec.SerializeAndDigest(tx)
	if err != nil {
		return err
	}
	p.Transaction = tx
	p.Unsigned = unsigned
	p.Digest = digest
	p.UpdatedAt = now
	return nil
}

// MarkSubmitted records that a node accepted the signed transaction
func (p *Proposal) MarkSubmitted(hash types.Hash, now time.Time) error {
	if p.Status == StatusOpen && !p.ThresholdMet() {
		return fmt.Errorf("%w: have %d of %d", types.ErrThresholdNotMet, len(p.Signatures), p.Threshold)
	}
	if err := p.transition(StatusSubmitted, "accepted by node", now); err != nil {
		return err
	}
	p.TransactionHash = hash
	p.SubmittedAt = now
	return nil
}

// Resolve applies a chain outcome to a submitted proposal. A pending
// outcome changes nothing.
func (p *Proposal) Resolve(outcome Outcome, reason string, now time.Time) error {
	switch outcome {
	case OutcomePending:
		if p.Status != StatusSubmitted {
			return &types.TransitionError{From: string(p.Status), To: string(StatusSubmitted)}
		}
		return nil
	case OutcomeFinalized:
		return p.transition(StatusFinalized, reason, now)
	case OutcomeRejected:
		return p.transition(StatusRejected, reason, now)
	case OutcomeFailed:
		return p.transition(StatusFailed, reason, now)
	default:
		return fmt.Errorf("unknown outcome %d", outcome)
	}
}

// Expire moves a submitted proposal whose transaction expiry has passed to
// Expired. It reports whether the transition happened.
func (p *Proposal) Expire(now time.Time) (bool, error) {
	if p.Status != StatusSubmitted || !p.ExpiresAt().HasPassed(now) {
		return false, nil
	}
	if err := p.transition(StatusExpired, "expiry passed without finalization", now); err != nil {
		return false, err
	}
	return true, nil
}

// Close discards an Open proposal
func (p *Proposal) Close(reason string, now time.Time) error {
	return p.transition(StatusClosed, reason, now)
}
