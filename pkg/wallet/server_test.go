package wallet_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/metrics"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/testutil"
	"github.com/ccdwallet/multisig-go/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServer_Endpoints(t *testing.T) {
	cluster := testutil.NewTestCluster(t, 2, 2)
	f := newWalletFixture(t, cluster, testutil.NewMockNode(zap.NewNop()))
	created := f.create(t, 1)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Submission("accepted")
	handler := wallet.NewServer(f.wallet, ":0", reg, zap.NewNop()).GetHandler()

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	t.Run("list", func(t *testing.T) {
		w := get("/proposals")
		require.Equal(t, http.StatusOK, w.Code)
		var views []wallet.ProposalView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
		require.Len(t, views, 1)
		assert.Equal(t, created.ID, views[0].ID)
		assert.Equal(t, proposal.StatusOpen, views[0].Status)
	})

	t.Run("list filtered", func(t *testing.T) {
		w := get("/proposals?status=submitted")
		require.Equal(t, http.StatusOK, w.Code)
		var views []wallet.ProposalView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
		assert.Empty(t, views)

		assert.Equal(t, http.StatusBadRequest, get("/proposals?status=pending").Code)
	})

	t.Run("get", func(t *testing.T) {
		w := get("/proposals/" + created.ID)
		require.Equal(t, http.StatusOK, w.Code)
		var view wallet.ProposalView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, 2, view.Required)
		assert.Equal(t, 0, view.Obtained)
		assert.Len(t, view.Slots, 2)
		assert.Equal(t, created.Digest, view.Digest)
	})

	t.Run("not found", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get("/proposals/does-not-exist").Code)
	})

	t.Run("device", func(t *testing.T) {
		w := get("/device")
		require.Equal(t, http.StatusOK, w.Code)
		var status wallet.DeviceStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, "ready", status.State)
	})

	t.Run("health", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/health").Code)
	})

	t.Run("metrics", func(t *testing.T) {
		w := get("/metrics")
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), "ccd_multisig_submissions_total"))
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/proposals", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}
