// server.go - HTTP boundary for the registry daemon
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"anonledger/internal/bridge"
	"anonledger/internal/ledger"
	"anonledger/internal/registries/identity"
	"anonledger/internal/registries/payment"
	"anonledger/internal/registries/review"
)

// Server serializes all transitions onto the three registries and exposes
// read-only state queries. A single mutex is the writer lock: every ledger
// is a single-writer state machine.
type Server struct {
	mu sync.Mutex

	cfg     *Config
	log     zerolog.Logger
	metrics *Metrics
	health  *HealthChecker
	limiter *ClientRateLimiter

	ids     *identity.Registry
	pay     *payment.Registry
	rev     *review.Registry
	relayer *bridge.Relayer

	ready bool
}

// NewServer wires the registries behind the HTTP boundary.
func NewServer(cfg *Config, log zerolog.Logger, metrics *Metrics, health *HealthChecker, ids *identity.Registry, pay *payment.Registry, rev *review.Registry, relayer *bridge.Relayer) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		health:  health,
		limiter: NewClientRateLimiter(cfg.RateLimitTokens, cfg.RateLimitRefill, time.Second),
		ids:     ids,
		pay:     pay,
		rev:     rev,
		relayer: relayer,
	}
}

// SetReady marks the daemon ready to accept transitions.
func (s *Server) SetReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state/{ledger}", s.handleState)
		r.Post("/transitions/identity", s.handleIdentityTransition)
		r.Post("/transitions/payment", s.handlePaymentTransition)
		r.Post("/transitions/review", s.handleReviewTransition)
		r.Post("/bridge/relay", s.handleRelay)
		r.Post("/audit", s.handleAudit)
	})

	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.RemoteAddr) {
			s.metrics.RateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		writeError(w, http.StatusServiceUnavailable, errors.New("not ready"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch chi.URLParam(r, "ledger") {
	case "identity":
		writeJSON(w, http.StatusOK, s.ids.Snapshot())
	case "payment":
		writeJSON(w, http.StatusOK, s.pay.Snapshot())
	case "review":
		writeJSON(w, http.StatusOK, s.rev.Snapshot())
	case "bridge":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"cursor":  s.relayer.Cursor,
			"pending": s.relayer.Pending(s.pay),
			"records": s.relayer.Records,
		})
	default:
		writeError(w, http.StatusNotFound, ledger.ErrNotFound)
	}
}

// identityTransition is the wire form of an identity registry operation.
// Byte fields are base64 per encoding/json.
type identityTransition struct {
	Op         string                    `json:"op"`
	AdminSk    []byte                    `json:"admin_sk,omitempty"`
	Approver   *identity.MembershipProof `json:"approver,omitempty"`
	Commitment []byte                    `json:"commitment,omitempty"`
	Nullifier  []byte                    `json:"nullifier,omitempty"`
	NewKeyCm   []byte                    `json:"new_key_cm,omitempty"`
	Status     identity.Status           `json:"status,omitempty"`
}

func (s *Server) handleIdentityTransition(w http.ResponseWriter, r *http.Request) {
	var req identityTransition
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	auth := identity.Auth{AdminSk: req.AdminSk, Approver: req.Approver}
	var op identity.Operation
	switch req.Op {
	case "onboard_member":
		op = identity.OnboardMemberOp{Auth: auth, Commitment: req.Commitment}
	case "offboard_member":
		op = identity.OffboardMemberOp{Auth: auth, Nullifier: req.Nullifier}
	case "add_approver":
		op = identity.AddApproverOp{AdminSk: req.AdminSk, Commitment: req.Commitment}
	case "add_auditor":
		op = identity.AddAuditorOp{AdminSk: req.AdminSk, Commitment: req.Commitment}
	case "rotate_admin_key":
		op = identity.RotateAdminKeyOp{AdminSk: req.AdminSk, NewKeyCm: req.NewKeyCm}
	case "set_status":
		op = identity.SetStatusOp{AdminSk: req.AdminSk, Status: req.Status}
	case "advance_round":
		op = identity.AdvanceRoundOp{AdminSk: req.AdminSk}
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown op"))
		return
	}

	s.mu.Lock()
	err := s.ids.Apply(op)
	if err == nil {
		err = s.persistIdentity()
	}
	s.mu.Unlock()

	s.finishTransition(w, "identity", req.Op, err)
}

// paymentTransition is the wire form of a payment registry operation.
type paymentTransition struct {
	Op         string                    `json:"op"`
	AdminSk    []byte                    `json:"admin_sk,omitempty"`
	Approver   *identity.MembershipProof `json:"approver,omitempty"`
	Commitment []byte                    `json:"commitment,omitempty"`
	Band       uint8                     `json:"band,omitempty"`
	Statement  *payment.ClaimStatement   `json:"statement,omitempty"`
	Member     *identity.MembershipProof `json:"member,omitempty"`
	Range      *payment.RangeStatement   `json:"range,omitempty"`
}

func (s *Server) handlePaymentTransition(w http.ResponseWriter, r *http.Request) {
	var req paymentTransition
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Range disclosures are stateless, so they skip Apply and persistence.
	if req.Op == "verify_range" {
		s.mu.Lock()
		start := time.Now()
		err := s.pay.VerifyRange(req.Range)
		s.metrics.VerifyDuration.WithLabelValues("payment").Observe(time.Since(start).Seconds())
		s.mu.Unlock()
		s.finishTransition(w, "payment", req.Op, err)
		return
	}

	var op payment.Operation
	switch req.Op {
	case "process_payment":
		op = payment.ProcessPaymentOp{
			Auth:       payment.Auth{AdminSk: req.AdminSk, Approver: req.Approver},
			Commitment: req.Commitment,
			Band:       req.Band,
		}
	case "confirm_receipt":
		op = payment.ConfirmReceiptOp{Statement: req.Statement}
	case "advance_period":
		op = payment.AdvancePeriodOp{AdminSk: req.AdminSk}
	case "raise_dispute":
		op = payment.RaiseDisputeOp{Member: req.Member}
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown op"))
		return
	}

	s.mu.Lock()
	start := time.Now()
	err := s.pay.Apply(op)
	if req.Op == "confirm_receipt" {
		s.metrics.VerifyDuration.WithLabelValues("payment").Observe(time.Since(start).Seconds())
	}
	if err == nil {
		err = s.persistPayment()
	}
	s.mu.Unlock()

	s.finishTransition(w, "payment", req.Op, err)
}

// reviewTransition is the wire form of a review registry operation.
type reviewTransition struct {
	Op              string                  `json:"op"`
	AdminSk         []byte                  `json:"admin_sk,omitempty"`
	TokenCommitment []byte                  `json:"token_commitment,omitempty"`
	Statement       *review.ReviewStatement `json:"statement,omitempty"`
}

func (s *Server) handleReviewTransition(w http.ResponseWriter, r *http.Request) {
	var req reviewTransition
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var op review.Operation
	switch req.Op {
	case "import_token":
		op = review.ImportTokenOp{AdminSk: req.AdminSk, TokenCommitment: req.TokenCommitment}
	case "submit_review":
		op = review.SubmitReviewOp{Statement: req.Statement}
	case "advance_period":
		op = review.AdvancePeriodOp{AdminSk: req.AdminSk}
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown op"))
		return
	}

	s.mu.Lock()
	start := time.Now()
	err := s.rev.Apply(op)
	if req.Op == "submit_review" {
		s.metrics.VerifyDuration.WithLabelValues("review").Observe(time.Since(start).Seconds())
	}
	if err == nil {
		err = s.persistReview()
	}
	s.mu.Unlock()

	s.finishTransition(w, "review", req.Op, err)
}

type relayRequest struct {
	AdminSk []byte `json:"admin_sk"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	relayed, err := s.relayer.Relay(req.AdminSk, s.pay, s.rev)
	if relayed > 0 {
		s.metrics.RelayedTokens.Add(float64(relayed))
		if perr := s.persistReview(); perr != nil && err == nil {
			err = perr
		}
		if perr := s.relayer.SaveToFile(filepath.Join(s.cfg.DataDir, "bridge.json")); perr != nil && err == nil {
			err = perr
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Int("relayed", relayed).Msg("bridge relay stopped")
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"relayed": relayed})
}

// auditRequest gates the cross-ledger audit view behind an auditor
// membership proof.
type auditRequest struct {
	Auditor *identity.MembershipProof `json:"auditor"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	if err := s.ids.VerifyAuditor(req.Auditor); err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("audit query rejected")
		writeError(w, statusForError(err), err)
		return
	}
	view := map[string]interface{}{
		"payments_processed": s.pay.TotalProcessed,
		"band_counts":        s.pay.BandCounts,
		"total_band_sum":     s.pay.TotalBandSum,
		"receipts_claimed":   s.pay.Receipts.Len(),
		"dispute_count":      s.pay.DisputeCount,
		"tokens_imported":    s.rev.Tokens.NextIndex,
		"tokens_pending":     s.relayer.Pending(s.pay),
		"total_reviews":      s.rev.TotalReviews,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, view)
}

// finishTransition records metrics, refreshes gauges and writes the outcome.
func (s *Server) finishTransition(w http.ResponseWriter, ledgerName, opName string, err error) {
	s.metrics.ObserveTransition(ledgerName, opName, err)
	if err != nil {
		s.log.Warn().Err(err).Str("ledger", ledgerName).Str("op", opName).Msg("transition rejected")
		writeError(w, statusForError(err), err)
		return
	}

	s.mu.Lock()
	s.metrics.TreeLeaves.WithLabelValues("employees").Set(float64(s.ids.Employees.NextIndex))
	s.metrics.TreeLeaves.WithLabelValues("payments").Set(float64(s.pay.Payments.NextIndex))
	s.metrics.TreeLeaves.WithLabelValues("tokens").Set(float64(s.rev.Tokens.NextIndex))
	s.mu.Unlock()

	receipt := uuid.New().String()
	s.log.Info().Str("ledger", ledgerName).Str("op", opName).Str("receipt", receipt).Msg("transition applied")
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "receipt": receipt})
}

func (s *Server) persistIdentity() error {
	return s.ids.SaveToFile(filepath.Join(s.cfg.DataDir, "identity.json"))
}

func (s *Server) persistPayment() error {
	return s.pay.SaveToFile(filepath.Join(s.cfg.DataDir, "payment.json"))
}

func (s *Server) persistReview() error {
	return s.rev.SaveToFile(filepath.Join(s.cfg.DataDir, "review.json"))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrProofInvalid), errors.Is(err, ledger.ErrStaleRoot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAlreadyClaimed), errors.Is(err, ledger.ErrDoubleReview),
		errors.Is(err, ledger.ErrAlreadyRevoked), errors.Is(err, ledger.ErrCapacityExceeded):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"status": "error", "error": err.Error()})
}
