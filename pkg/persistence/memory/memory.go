package memory

import (
	"fmt"
	"sync"

	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
)

// MemoryPersistence is an in-memory implementation of IProposalPersistence.
// Intended for tests and throwaway sessions; all data is lost when the
// process exits.
//
// Records are kept in their serialized form, so callers never share a
// *proposal.Proposal with the store.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Proposal records: id -> serialized proposal
	proposals map[string][]byte

	walletState *persistence.WalletState

	closed bool
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		proposals: make(map[string][]byte),
	}
}

// SaveProposal persists a proposal.
func (m *MemoryPersistence) SaveProposal(p *proposal.Proposal) error {
	data, err := persistence.MarshalProposal(p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}
	m.proposals[p.ID] = data
	return nil
}

// LoadProposal retrieves a proposal by id.
func (m *MemoryPersistence) LoadProposal(id string) (*proposal.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	data, exists := m.proposals[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return persistence.UnmarshalProposal(data)
}

// ListProposals returns matching proposals ordered by creation time.
func (m *MemoryPersistence) ListProposals(statuses ...proposal.Status) ([]*proposal.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*proposal.Proposal, 0, len(m.proposals))
	for _, data := range m.proposals {
		p, err := persistence.UnmarshalProposal(data)
		if err != nil {
			return nil, err
		}
		if persistence.MatchesStatus(p, statuses) {
			result = append(result, p)
		}
	}
	persistence.SortProposals(result)
	return result, nil
}

// DeleteProposal removes a proposal.
func (m *MemoryPersistence) DeleteProposal(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	delete(m.proposals, id)
	return nil
}

// SaveWalletState persists wallet operational state.
func (m *MemoryPersistence) SaveWalletState(state *persistence.WalletState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil WalletState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	copied := *state
	m.walletState = &copied
	return nil
}

// LoadWalletState retrieves wallet operational state.
func (m *MemoryPersistence) LoadWalletState() (*persistence.WalletState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	// Return nil if no state has been saved yet (first run)
	if m.walletState == nil {
		return nil, nil
	}
	copied := *m.walletState
	return &copied, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
