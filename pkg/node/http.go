package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/retry"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	submitPath = "/v0/submitTransaction"
	statusPath = "/v0/transactionStatus/"

	DefaultRequestTimeout = 10 * time.Second
)

// HTTPClientConfig configures a node HTTP client
type HTTPClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Retry          retry.RetryConfig
	// HTTPClient overrides the default client, mostly for tests
	HTTPClient *http.Client
}

// HTTPClient talks to a node's JSON API
type HTTPClient struct {
	baseURL string
	client  *http.Client
	retry   retry.RetryConfig
	logger  *zap.Logger
}

// RequestError is a non-retryable answer from the node, such as a 4xx for
// a transaction it refuses to accept
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("node refused request with status %d: %s", e.StatusCode, e.Message)
}

type submitRequest struct {
	Type        string        `json:"type"`
	Transaction hexutil.Bytes `json:"transaction"`
}

type submitResponse struct {
	TransactionHash types.Hash `json:"transactionHash"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPClient(cfg *HTTPClientConfig, logger *zap.Logger) (*HTTPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("node URL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	r := cfg.Retry
	if r.MaxAttempts == 0 {
		r = retry.DefaultRetryConfig
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		retry:   r,
		logger:  logger,
	}, nil
}

func (c *HTTPClient) SubmitTransaction(ctx context.Context, family codec.Family, signed []byte) (types.Hash, error) {
	body, err := json.Marshal(submitRequest{Type: family.String(), Transaction: signed})
	if err != nil {
		return types.Hash{}, err
	}

	var resp submitResponse
	err = retry.Do(ctx, c.retry, types.IsRetryable, func(attempt int) error {
		c.logger.Sugar().Debugw("Submitting transaction",
			"family", family.String(),
			"size", len(signed),
			"attempt", attempt+1,
		)
		return c.do(ctx, http.MethodPost, submitPath, body, &resp)
	})
	if err != nil {
		return types.Hash{}, err
	}
	c.logger.Sugar().Infow("Transaction accepted by node", "hash", resp.TransactionHash.String())
	return resp.TransactionHash, nil
}

func (c *HTTPClient) GetTransactionStatus(ctx context.Context, hash types.Hash) (*TransactionStatus, error) {
	var status TransactionStatus
	err := retry.Do(ctx, c.retry, types.IsRetryable, func(int) error {
		return c.do(ctx, http.MethodGet, statusPath+hash.String(), nil, &status)
	})
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
		return &TransactionStatus{Hash: hash, State: StateAbsent}, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := ParseTransactionState(string(status.State)); err != nil {
		return nil, err
	}
	status.Hash = hash
	return &status, nil
}

// do performs one request. Network errors and 5xx answers become
// retryable SubmissionErrors, 4xx answers RequestErrors.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build node request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &types.SubmissionError{Err: errors.Wrapf(err, "%s %s", method, path)}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &types.SubmissionError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "failed to read node response")}
	}
	switch {
	case resp.StatusCode >= 500:
		return &types.SubmissionError{StatusCode: resp.StatusCode, Err: errors.New(errorMessage(data))}
	case resp.StatusCode >= 400:
		return &RequestError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode node response")
	}
	return nil
}

func errorMessage(data []byte) string {
	var e errorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}
