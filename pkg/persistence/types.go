package persistence

import (
	"errors"

	"github.com/ccdwallet/multisig-go/pkg/proposal"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("persistence layer is closed")

// WalletState is operational state that must survive restarts
type WalletState struct {
	// Network the store was created for. A store is never shared between networks.
	Network string `json:"network"`

	// LastReconciledAt is the unix time of the last completed reconciliation pass
	LastReconciledAt int64 `json:"lastReconciledAt"`

	// StartTime is the unix time the wallet service last started
	StartTime int64 `json:"startTime"`
}

// MatchesStatus reports whether p is in one of statuses. No statuses matches everything.
func MatchesStatus(p *proposal.Proposal, statuses []proposal.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if p.Status == s {
			return true
		}
	}
	return false
}
