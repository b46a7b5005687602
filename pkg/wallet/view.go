package wallet

import (
	"time"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SlotView describes one signer position of a proposal
type SlotView struct {
	Index     types.SignatureIndex `json:"index"`
	Label     string               `json:"label,omitempty"`
	PublicKey string               `json:"publicKey"`
	Signed    bool                 `json:"signed"`
}

// ProposalView is the read-only state of a proposal as shown to a user
type ProposalView struct {
	ID              string                `json:"id"`
	Family          string                `json:"family"`
	Kind            string                `json:"kind"`
	Status          proposal.Status       `json:"status"`
	Digest          types.Hash            `json:"digest"`
	Required        int                   `json:"required"`
	Obtained        int                   `json:"obtained"`
	ThresholdMet    bool                  `json:"thresholdMet"`
	Slots           []SlotView            `json:"slots"`
	Expiry          time.Time             `json:"expiry"`
	Terminal        bool                  `json:"terminal"`
	FundsRelevant   bool                  `json:"fundsRelevant"`
	TransactionHash *types.Hash           `json:"transactionHash,omitempty"`
	History         []proposal.Transition `json:"history"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

func newProposalView(p *proposal.Proposal) *ProposalView {
	v := &ProposalView{
		ID:            p.ID,
		Family:        p.Family().String(),
		Kind:          p.Kind(),
		Status:        p.Status,
		Digest:        p.Digest,
		Required:      p.Threshold,
		Obtained:      p.SignatureCount(),
		ThresholdMet:  p.ThresholdMet(),
		Expiry:        p.ExpiresAt().Time(),
		Terminal:      p.IsTerminal(),
		FundsRelevant: p.FundsRelevant(),
		History:       append([]proposal.Transition(nil), p.History...),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	for _, s := range p.Slots {
		_, signed := p.Signatures[s.Index]
		v.Slots = append(v.Slots, SlotView{
			Index:     s.Index,
			Label:     s.Label,
			PublicKey: hexutil.Encode(s.PublicKey),
			Signed:    signed,
		})
	}
	if !p.TransactionHash.IsZero() {
		hash := p.TransactionHash
		v.TransactionHash = &hash
	}
	return v
}

// DeviceStatus is the observable state of the device session
type DeviceStatus struct {
	Attached  bool   `json:"attached"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
	// CanSignUpdates reports whether the app is new enough for update instructions
	CanSignUpdates bool `json:"canSignUpdates"`
}

func newDeviceStatus(s *ledger.Session) DeviceStatus {
	if s == nil {
		return DeviceStatus{State: ledger.StateDisconnected.String()}
	}
	status := DeviceStatus{Attached: true, State: s.State().String()}
	if version, ok := s.Version(); ok {
		status.Connected = true
		status.Version = version.String()
		status.CanSignUpdates = version.AtLeast(ledger.MinUpdateVersion)
	}
	return status
}
