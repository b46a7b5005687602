package persistence

import "github.com/ccdwallet/multisig-go/pkg/proposal"

// IProposalPersistence stores proposals as opaque records keyed by id.
// All implementations must be thread-safe; the wallet, the reconciler and
// CLI commands may share one store.
//
// The interface supports:
// - Proposal records (save, load, list, delete)
// - Wallet operational state (last reconciliation, network)
// - Lifecycle management (close, health check)
type IProposalPersistence interface {
	// Proposals

	// SaveProposal persists the whole proposal, replacing any previous record
	// with the same id.
	SaveProposal(p *proposal.Proposal) error

	// LoadProposal retrieves a proposal by id.
	// Returns nil if the proposal doesn't exist, error only on storage failure.
	LoadProposal(id string) (*proposal.Proposal, error)

	// ListProposals returns the stored proposals ordered by creation time.
	// When statuses are given only proposals in one of them are returned.
	// Records that fail to decode are skipped and logged.
	ListProposals(statuses ...proposal.Status) ([]*proposal.Proposal, error)

	// DeleteProposal removes a proposal.
	// Idempotent - returns nil if the proposal doesn't exist.
	DeleteProposal(id string) error

	// Wallet Operational State

	// SaveWalletState overwrites the stored operational state.
	SaveWalletState(state *WalletState) error

	// LoadWalletState returns nil state if none exists (first run).
	LoadWalletState() (*WalletState, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
