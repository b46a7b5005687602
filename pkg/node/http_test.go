package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/retry"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testRetry = retry.RetryConfig{
	MaxAttempts:     3,
	InitialBackoff:  time.Millisecond,
	MaxBackoff:      2 * time.Millisecond,
	BackoffMultiple: 2,
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(&HTTPClientConfig{BaseURL: srv.URL + "/", Retry: testRetry}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_Validation(t *testing.T) {
	_, err := NewHTTPClient(nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewHTTPClient(&HTTPClientConfig{}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewHTTPClient(&HTTPClientConfig{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}

func TestSubmitTransaction(t *testing.T) {
	want := types.Hash{0xde, 0xad}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, submitPath, r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "update", req["type"])
		assert.Equal(t, "0x010203", req["transaction"])
		_ = json.NewEncoder(w).Encode(map[string]string{"transactionHash": want.String()})
	})

	got, err := c.SubmitTransaction(context.Background(), codec.FamilyUpdate, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSubmitTransaction_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"transactionHash": types.Hash{1}.String()})
	})

	_, err := c.SubmitTransaction(context.Background(), codec.FamilyAccount, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSubmitTransaction_ServerErrorsExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"node is catching up"}`))
	})

	_, err := c.SubmitTransaction(context.Background(), codec.FamilyAccount, []byte{1})
	var subErr *types.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, http.StatusServiceUnavailable, subErr.StatusCode)
	assert.Contains(t, err.Error(), "node is catching up")
	assert.True(t, types.IsRetryable(err))
}

func TestSubmitTransaction_RefusedNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"nonce too small"}`))
	})

	_, err := c.SubmitTransaction(context.Background(), codec.FamilyAccount, []byte{1})
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "nonce too small", reqErr.Message)
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubmitTransaction_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(&HTTPClientConfig{BaseURL: url, Retry: testRetry}, zap.NewNop())
	require.NoError(t, err)
	_, err = c.SubmitTransaction(context.Background(), codec.FamilyAccount, []byte{1})
	var subErr *types.SubmissionError
	assert.True(t, errors.As(err, &subErr))
}

func TestGetTransactionStatus(t *testing.T) {
	hash := types.Hash{0x42}
	block := types.Hash{0x07}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, hash.String()))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":       "finalized",
			"outcome":      "reject",
			"rejectReason": "AmountTooLarge",
			"blockHash":    block.String(),
		})
	})

	status, err := c.GetTransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, hash, status.Hash)
	assert.Equal(t, StateFinalized, status.State)
	assert.Equal(t, OutcomeReject, status.Outcome)
	assert.Equal(t, "AmountTooLarge", status.RejectReason)
	require.NotNil(t, status.BlockHash)
	assert.Equal(t, block, *status.BlockHash)
}

func TestGetTransactionStatus_NotFoundIsAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	status, err := c.GetTransactionStatus(context.Background(), types.Hash{1})
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, status.State)
}

func TestGetTransactionStatus_UnknownState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"teleported"}`))
	})

	_, err := c.GetTransactionStatus(context.Background(), types.Hash{1})
	assert.Error(t, err)
}

func TestGetTransactionStatus_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetTransactionStatus(ctx, types.Hash{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
