package tests

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/node"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FakeNode serves the node JSON API from memory. Submitted transactions are
// decoded before they are accepted, so malformed wire bytes get a 400 just
// like on a real node.
type FakeNode struct {
	URL string

	mu       sync.Mutex
	statuses map[types.Hash]*node.TransactionStatus
	accepted int
}

// StartFakeNode serves a FakeNode until the test ends
func StartFakeNode(t *testing.T) *FakeNode {
	t.Helper()
	n := &FakeNode{statuses: make(map[types.Hash]*node.TransactionStatus)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v0/submitTransaction", n.handleSubmit)
	mux.HandleFunc("GET /v0/transactionStatus/{hash}", n.handleStatus)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	n.URL = srv.URL
	return n
}

func (n *FakeNode) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        string        `json:"type"`
		Transaction hexutil.Bytes `json:"transaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	family, err := codec.ParseFamily(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := codec.DecodeSigned(family, req.Transaction); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash := types.Hash(sha256.Sum256(req.Transaction))
	n.mu.Lock()
	if _, ok := n.statuses[hash]; !ok {
		n.statuses[hash] = &node.TransactionStatus{Hash: hash, State: node.StateReceived}
		n.accepted++
	}
	n.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]types.Hash{"transactionHash": hash})
}

func (n *FakeNode) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash, err := types.HashFromHex(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n.mu.Lock()
	status, ok := n.statuses[hash]
	var out node.TransactionStatus
	if ok {
		out = *status
	}
	n.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Finalize moves a received transaction into a block with the given outcome
func (n *FakeNode) Finalize(hash types.Hash, outcome, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if status, ok := n.statuses[hash]; ok {
		block := types.Hash(sha256.Sum256(hash[:]))
		status.State = node.StateFinalized
		status.Outcome = outcome
		status.RejectReason = reason
		status.BlockHash = &block
	}
}

// Accepted is the number of distinct transactions the node took
func (n *FakeNode) Accepted() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accepted
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": strings.TrimSpace(msg)})
}
