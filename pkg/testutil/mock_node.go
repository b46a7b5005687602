package testutil

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/node"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
)

// MockNode implements node.INodeClient for testing. Submitted
// transactions start out received; tests script later statuses with
// SetStatus and inject failures with FailSubmissions.
type MockNode struct {
	mu          sync.Mutex
	logger      *zap.Logger
	submissions [][]byte
	statuses    map[types.Hash]*node.TransactionStatus
	failures    []error
	statusErr   error
}

var _ node.INodeClient = (*MockNode)(nil)

func NewMockNode(logger *zap.Logger) *MockNode {
	return &MockNode{
		logger:   logger,
		statuses: make(map[types.Hash]*node.TransactionStatus),
	}
}

// SubmitTransaction records the bytes and returns their hash. Repeated
// submissions of the same bytes return the same hash and leave the status alone.
func (m *MockNode) SubmitTransaction(ctx context.Context, family codec.Family, signed []byte) (types.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.Hash{}, err
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		m.logger.Sugar().Debugw("MockNode failing submission", "error", err)
		return types.Hash{}, err
	}

	m.submissions = append(m.submissions, append([]byte(nil), signed...))
	hash := types.Hash(sha256.Sum256(signed))
	if _, ok := m.statuses[hash]; !ok {
		m.statuses[hash] = &node.TransactionStatus{Hash: hash, State: node.StateReceived}
	}
	m.logger.Sugar().Debugw("MockNode accepted transaction", "family", family.String(), "hash", hash.String())
	return hash, nil
}

func (m *MockNode) GetTransactionStatus(ctx context.Context, hash types.Hash) (*node.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	status, ok := m.statuses[hash]
	if !ok {
		return &node.TransactionStatus{Hash: hash, State: node.StateAbsent}, nil
	}
	out := *status
	return &out, nil
}

// SetStatus scripts the status reported for hash
func (m *MockNode) SetStatus(hash types.Hash, state node.TransactionState, outcome, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[hash] = &node.TransactionStatus{Hash: hash, State: state, Outcome: outcome, RejectReason: reason}
}

// FailSubmissions makes the next submissions fail with errs, in order
func (m *MockNode) FailSubmissions(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// FailStatus makes status queries fail with err until cleared with nil
func (m *MockNode) FailStatus(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

// Submissions returns every accepted submission
func (m *MockNode) Submissions() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.submissions...)
}

// Distinct returns the number of distinct transactions accepted
func (m *MockNode) Distinct() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statuses)
}
