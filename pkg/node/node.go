package node

import (
	"context"
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/types"
)

// TransactionState is how far a node has taken a transaction
type TransactionState string

const (
	// StateAbsent means the node does not know the transaction (yet, or any more)
	StateAbsent    TransactionState = "absent"
	StateReceived  TransactionState = "received"
	StateCommitted TransactionState = "committed"
	StateFinalized TransactionState = "finalized"
	// StateRejected means the node dropped the transaction without executing it
	StateRejected TransactionState = "rejected"
)

// ParseTransactionState validates a state name reported by a node
func ParseTransactionState(s string) (TransactionState, error) {
	switch st := TransactionState(s); st {
	case StateAbsent, StateReceived, StateCommitted, StateFinalized, StateRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown transaction state %q", s)
	}
}

const (
	OutcomeSuccess = "success"
	OutcomeReject  = "reject"
)

// TransactionStatus is a node's view of a submitted transaction
type TransactionStatus struct {
	Hash  types.Hash       `json:"transactionHash"`
	State TransactionState `json:"status"`
	// Outcome is set once finalized: success, or reject when execution failed
	Outcome      string      `json:"outcome,omitempty"`
	RejectReason string      `json:"rejectReason,omitempty"`
	BlockHash    *types.Hash `json:"blockHash,omitempty"`
}

// INodeClient is the node access used by the submission pipeline
type INodeClient interface {
	// SubmitTransaction hands signed wire bytes to the node. Submitting the
	// same bytes again returns the same hash.
	SubmitTransaction(ctx context.Context, family codec.Family, signed []byte) (types.Hash, error)

	GetTransactionStatus(ctx context.Context, hash types.Hash) (*TransactionStatus, error)
}
