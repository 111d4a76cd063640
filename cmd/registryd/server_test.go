package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"anonledger/internal/bridge"
	"anonledger/internal/ledger"
	"anonledger/internal/registries/identity"
	"anonledger/internal/registries/payment"
	"anonledger/internal/registries/review"
)

func newTestServer(t *testing.T) ([]byte, *Server) {
	t.Helper()
	adminSk := ledger.RandomBytes(32)
	adminKeyCm := ledger.PublicKey(adminSk)

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.RateLimitTokens = 1000

	ids := identity.NewRegistry(adminKeyCm)
	pay := payment.NewRegistry(adminKeyCm, ids)
	rev := review.NewRegistry(adminKeyCm)

	srv := NewServer(cfg, zerolog.Nop(), NewMetrics(), NewHealthChecker("test"), ids, pay, rev, bridge.NewRelayer())
	srv.SetReady()
	return adminSk, srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.RateLimitTokens = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ListenAddr = ""
	require.Error(t, cfg.Validate())
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(2, 1, 10*time.Millisecond)
	require.True(t, rl.Allow())
	require.True(t, rl.Allow())
	require.False(t, rl.Allow())

	time.Sleep(25 * time.Millisecond)
	require.True(t, rl.Allow())
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.ErrUnauthorized, http.StatusForbidden},
		{ledger.ErrNotFound, http.StatusNotFound},
		{ledger.ErrProofInvalid, http.StatusUnprocessableEntity},
		{ledger.ErrStaleRoot, http.StatusUnprocessableEntity},
		{ledger.ErrAlreadyClaimed, http.StatusConflict},
		{ledger.ErrDoubleReview, http.StatusConflict},
		{errors.New("anything else"), http.StatusBadRequest},
	}
	for _, c := range cases {
		require.Equal(t, c.want, statusForError(c.err), "error %v", c.err)
	}
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	_, srv := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStateEndpoints(t *testing.T) {
	_, srv := newTestServer(t)
	router := srv.Router()

	for _, name := range []string{"identity", "payment", "review", "bridge"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/state/"+name, nil))
		require.Equal(t, http.StatusOK, rec.Code, "ledger %s", name)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/state/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdentityTransitionEndpoint(t *testing.T) {
	adminSk, srv := newTestServer(t)
	router := srv.Router()

	cred := identity.NewCredential()
	rec := postJSON(t, router, "/v1/transitions/identity", identityTransition{
		Op:         "onboard_member",
		AdminSk:    adminSk,
		Commitment: cred.Cm,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(1), srv.ids.Employees.NextIndex)

	// A wrong admin key is forbidden
	rec = postJSON(t, router, "/v1/transitions/identity", identityTransition{
		Op:         "onboard_member",
		AdminSk:    ledger.RandomBytes(32),
		Commitment: identity.NewCredential().Cm,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = postJSON(t, router, "/v1/transitions/identity", identityTransition{Op: "bogus"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentTransitionEndpoint(t *testing.T) {
	adminSk, srv := newTestServer(t)
	router := srv.Router()

	rec := postJSON(t, router, "/v1/transitions/payment", paymentTransition{
		Op:         "process_payment",
		AdminSk:    adminSk,
		Commitment: ledger.RandomBytes(32),
		Band:       3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(1), srv.pay.TotalProcessed)

	rec = postJSON(t, router, "/v1/transitions/payment", paymentTransition{
		Op:      "advance_period",
		AdminSk: adminSk,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(2), srv.pay.CurrentPeriod)

	// A claim against an unknown root is rejected without state changes
	rec = postJSON(t, router, "/v1/transitions/payment", paymentTransition{
		Op: "confirm_receipt",
		Statement: &payment.ClaimStatement{
			Root:             ledger.RandomBytes(32),
			ReceiptNullifier: ledger.RandomBytes(32),
			TokenCommitment:  ledger.RandomBytes(32),
			Period:           srv.pay.CurrentPeriod,
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, 0, srv.pay.Receipts.Len())
}

func TestBridgeRelayEndpoint(t *testing.T) {
	adminSk, srv := newTestServer(t)
	router := srv.Router()

	srv.pay.TokenOutbox = append(srv.pay.TokenOutbox,
		ledger.FieldString(ledger.TokenCommitment(ledger.RandomBytes(32), 1, ledger.RandomBytes(32))))

	rec := postJSON(t, router, "/v1/bridge/relay", relayRequest{AdminSk: adminSk})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Relayed int `json:"relayed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Relayed)
	require.Equal(t, uint64(1), srv.rev.Tokens.NextIndex)
}

func TestVerifyRangeEndpoint(t *testing.T) {
	_, srv := newTestServer(t)
	router := srv.Router()

	// A missing statement is rejected
	rec := postJSON(t, router, "/v1/transitions/payment", paymentTransition{Op: "verify_range"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	// Bounds outside the band scale are rejected before the root check
	rec = postJSON(t, router, "/v1/transitions/payment", paymentTransition{
		Op:    "verify_range",
		Range: &payment.RangeStatement{Root: srv.pay.Payments.Root(), Lower: 0, Upper: 9},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// An unknown root is rejected before proof verification
	rec = postJSON(t, router, "/v1/transitions/payment", paymentTransition{
		Op:    "verify_range",
		Range: &payment.RangeStatement{Root: ledger.RandomBytes(32), Lower: 1, Upper: 3},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// A garbage proof against the current root is rejected statelessly
	rec = postJSON(t, router, "/v1/transitions/payment", paymentTransition{
		Op: "verify_range",
		Range: &payment.RangeStatement{
			Root:  srv.pay.Payments.Root(),
			Lower: 1,
			Upper: 3,
			Proof: ledger.RandomBytes(64),
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, uint64(0), srv.pay.TotalProcessed)
}

func TestAuditEndpoint(t *testing.T) {
	_, srv := newTestServer(t)
	router := srv.Router()

	// No auditor proof, no audit view
	rec := postJSON(t, router, "/v1/audit", auditRequest{})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	// An unknown auditor root is rejected
	rec = postJSON(t, router, "/v1/audit", auditRequest{
		Auditor: &identity.MembershipProof{Root: ledger.RandomBytes(32)},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
