package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/allocation"
	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/feed"
	"sale-vesting-engine/internal/identity"
	"sale-vesting-engine/internal/ledger"
	"sale-vesting-engine/internal/observability"
	"sale-vesting-engine/internal/pricing"
	"sale-vesting-engine/internal/storage"
)

const claimInsertTimeout = 5 * time.Second

// ServerOptions for creating Server.
type ServerOptions struct {
	// Required
	Ledger  *ledger.Ledger
	Sales   *allocation.Service
	Claims  storage.ClaimEventStore
	Feed    *feed.Hub
	Metrics *observability.Metrics

	// Optional
	AdminToken     string // empty disables admin endpoints
	CheckAddresses bool   // require ed25519 base58 investor ids
	Backend        string
	Logger         *log.Logger
	Now            func() time.Time // defaults to time.Now
}

// Server serves the engine over HTTP.
type Server struct {
	ledger         *ledger.Ledger
	sales          *allocation.Service
	claims         storage.ClaimEventStore
	feed           *feed.Hub
	metrics        *observability.Metrics
	adminToken     string
	checkAddresses bool
	backend        string
	logger         *log.Logger
	now            func() time.Time
	started        time.Time
}

// NewServer creates a new Server.
func NewServer(opts ServerOptions) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[server] ", log.LstdFlags)
	}
	return &Server{
		ledger:         opts.Ledger,
		sales:          opts.Sales,
		claims:         opts.Claims,
		feed:           opts.Feed,
		metrics:        opts.Metrics,
		adminToken:     opts.AdminToken,
		checkAddresses: opts.CheckAddresses,
		backend:        opts.Backend,
		logger:         logger,
		now:            now,
		started:        now(),
	}
}

// Routes returns the HTTP handler with all endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.With(s.instrument("status")).Get("/status", s.handleStatus)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/investors/{id}", func(inv chi.Router) {
			inv.With(s.instrument("claimable")).Get("/claimable", s.handleClaimable)
			inv.With(s.instrument("claim")).Post("/claim", s.handleClaim)
			inv.With(s.instrument("claims")).Get("/claims", s.handleClaims)
			inv.With(s.instrument("lock_months")).Get("/lock-months", s.handleLockMonths)
			inv.With(s.instrument("allocation"), s.admin).Put("/allocation", s.handleSetAllocation)
		})
		v1.With(s.instrument("purchase"), s.admin).Post("/purchases", s.handlePurchase)
		v1.With(s.instrument("average_months")).Post("/average-months", s.handleAverageMonths)

		// Not instrumented: the recorder would hide http.Hijacker from the upgrader.
		v1.Method(http.MethodGet, "/feed", s.feed)
	})

	return r
}

// claimRecorder stores, publishes and counts committed claims.
func claimRecorder(claims storage.ClaimEventStore, hub *feed.Hub, metrics *observability.Metrics, logger *log.Logger) func(domain.ClaimEvent) {
	return func(e domain.ClaimEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), claimInsertTimeout)
		defer cancel()

		if err := claims.Insert(ctx, &e); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			logger.Printf("store claim %s for %s: %v", e.ClaimID, e.InvestorID, err)
		}
		hub.Publish(e)
		metrics.RecordClaim(e)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Storage     string `json:"storage"`
	StartTime   int64  `json:"distribution_start"`
	Subscribers int    `json:"feed_subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "running",
		Uptime:      s.now().Sub(s.started).Round(time.Second).String(),
		Storage:     s.backend,
		StartTime:   s.ledger.StartTime(),
		Subscribers: s.feed.Subscribers(),
	})
}

// ClaimableResponse describes an investor's position at a point in time.
type ClaimableResponse struct {
	InvestorID string `json:"investor_id"`
	At         int64  `json:"at"`
	Vested     uint64 `json:"vested"`
	Claimed    uint64 `json:"claimed"`
	Claimable  uint64 `json:"claimable"`
}

// handleClaimable reports the position now, or at ?at=<unix seconds>.
func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	investorID, ok := s.investorID(w, r)
	if !ok {
		return
	}

	at := s.now().Unix()
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be Unix seconds")
			return
		}
		at = parsed
	}

	resp := ClaimableResponse{InvestorID: investorID, At: at}

	entry, err := s.ledger.Entry(r.Context(), investorID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		s.internalError(w, "get entry", err)
		return
	}
	resp.Claimed = entry.Claimed

	if resp.Vested, err = s.ledger.Vested(r.Context(), investorID, at); err != nil {
		s.internalError(w, "vested", err)
		return
	}
	resp.Claimable, err = s.ledger.Claimable(r.Context(), investorID, at)
	if err != nil && !errors.Is(err, ledger.ErrNothingToClaim) {
		s.internalError(w, "claimable", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ClaimResponse is the JSON response for a committed claim.
type ClaimResponse struct {
	InvestorID string `json:"investor_id"`
	Amount     uint64 `json:"amount"`
	ClaimedAt  int64  `json:"claimed_at"`
}

// handleClaim claims at the server clock; callers cannot choose the time.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	investorID, ok := s.investorID(w, r)
	if !ok {
		return
	}

	now := s.now().Unix()
	amount, err := s.ledger.Claim(r.Context(), investorID, now)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ClaimResponse{InvestorID: investorID, Amount: amount, ClaimedAt: now})
	case errors.Is(err, ledger.ErrNothingToClaim):
		s.metrics.RecordClaimRejected(observability.OutcomeNothingToClaim)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrConflict):
		s.metrics.RecordClaimRejected(observability.OutcomeConflict)
		writeError(w, http.StatusConflict, "claim raced with another claim, retry")
	default:
		s.metrics.RecordClaimRejected(observability.OutcomeError)
		s.internalError(w, "claim", err)
	}
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	investorID, ok := s.investorID(w, r)
	if !ok {
		return
	}

	events, err := s.claims.GetByInvestor(r.Context(), investorID)
	if err != nil {
		s.internalError(w, "get claims", err)
		return
	}

	resp := make([]feed.ClaimMessage, 0, len(events))
	for _, e := range events {
		resp = append(resp, feed.NewClaimMessage(*e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// LockMonthsResponse is the investor's token-weighted vesting length.
type LockMonthsResponse struct {
	InvestorID string  `json:"investor_id"`
	Months     float64 `json:"months"`
}

func (s *Server) handleLockMonths(w http.ResponseWriter, r *http.Request) {
	investorID, ok := s.investorID(w, r)
	if !ok {
		return
	}

	months, err := s.sales.MaxLockMonths(r.Context(), investorID)
	if err != nil {
		s.pricingError(w, "lock months", err)
		return
	}
	writeJSON(w, http.StatusOK, LockMonthsResponse{InvestorID: investorID, Months: months})
}

// AllocationRequest replaces an investor's allocation basis.
type AllocationRequest struct {
	Seed      uint64 `json:"seed"`
	Private   uint64 `json:"private"`
	Presale   uint64 `json:"presale"`
	StartTime *int64 `json:"start_time,omitempty"` // overrides the shared start
}

// EntryResponse is the JSON form of a ledger entry.
type EntryResponse struct {
	InvestorID string `json:"investor_id"`
	Seed       uint64 `json:"seed"`
	Private    uint64 `json:"private"`
	Presale    uint64 `json:"presale"`
	Claimed    uint64 `json:"claimed"`
	StartTime  int64  `json:"start_time"`
}

func newEntryResponse(e *domain.LedgerEntry) *EntryResponse {
	if e == nil {
		return nil
	}
	return &EntryResponse{
		InvestorID: e.InvestorID,
		Seed:       e.Allocation.Get(domain.RoundSeed),
		Private:    e.Allocation.Get(domain.RoundPrivate),
		Presale:    e.Allocation.Get(domain.RoundPresale),
		Claimed:    e.Claimed,
		StartTime:  e.StartTime,
	}
}

func (s *Server) handleSetAllocation(w http.ResponseWriter, r *http.Request) {
	investorID, ok := s.investorID(w, r)
	if !ok {
		return
	}

	var req AllocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := s.ledger.SetAllocation(r.Context(), investorID, domain.NewAllocation(req.Seed, req.Private, req.Presale))
	if err != nil {
		s.ledgerError(w, "set allocation", err)
		return
	}

	if req.StartTime != nil {
		if err := s.ledger.SetStartTime(r.Context(), investorID, *req.StartTime); err != nil {
			s.ledgerError(w, "set start time", err)
			return
		}
		if entry, err = s.ledger.Entry(r.Context(), investorID); err != nil {
			s.internalError(w, "get entry", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, newEntryResponse(entry))
}

// PurchaseRequest is one capital contribution.
type PurchaseRequest struct {
	InvestorID string          `json:"investor_id"`
	Category   domain.Category `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
}

// PurchaseResponse is the JSON response for a recorded purchase.
type PurchaseResponse struct {
	PurchaseID string          `json:"purchase_id"`
	Category   domain.Category `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	PoolSize   decimal.Decimal `json:"pool_size"`
	Tokens     uint64          `json:"tokens"`
	Entry      *EntryResponse  `json:"entry,omitempty"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.validInvestor(w, req.InvestorID) {
		return
	}

	result, err := s.sales.Purchase(r.Context(), allocation.Purchase{
		InvestorID: req.InvestorID,
		Category:   req.Category,
		Amount:     req.Amount,
		Reference:  req.Reference,
		CreatedAt:  s.now().UnixMilli(),
	})
	switch {
	case err == nil:
	case errors.Is(err, allocation.ErrInvalidPurchase):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, allocation.ErrDuplicatePurchase):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, allocation.ErrPoolContention):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, ledger.ErrAllocationReduced):
		s.ledgerError(w, "purchase", err)
		return
	default:
		s.pricingError(w, "purchase", err)
		return
	}

	rec := result.Record
	writeJSON(w, http.StatusCreated, PurchaseResponse{
		PurchaseID: rec.PurchaseID,
		Category:   rec.Category,
		Amount:     rec.Amount,
		PoolSize:   rec.PoolSize,
		Tokens:     rec.Tokens,
		Entry:      newEntryResponse(result.Entry),
	})
}

// ContributionRequest is capital put into a round at a pool size.
type ContributionRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	PoolSize decimal.Decimal `json:"pool_size"`
}

func (c ContributionRequest) contribution() domain.Contribution {
	return domain.Contribution{Amount: c.Amount, PoolSize: c.PoolSize}
}

// AverageMonthsRequest is a full investment to weigh.
type AverageMonthsRequest struct {
	Seed              ContributionRequest `json:"seed"`
	Private           ContributionRequest `json:"private"`
	Presale           ContributionRequest `json:"presale"`
	DiscountedPresale ContributionRequest `json:"discounted_presale"`
	BuyMore           decimal.Decimal     `json:"buy_more"`
}

// AverageMonthsResponse is the token-weighted vesting length.
type AverageMonthsResponse struct {
	Months float64 `json:"months"`
}

func (s *Server) handleAverageMonths(w http.ResponseWriter, r *http.Request) {
	var req AverageMonthsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	months, err := pricing.AverageMonths(domain.Investment{
		Seed:              req.Seed.contribution(),
		Private:           req.Private.contribution(),
		Presale:           req.Presale.contribution(),
		DiscountedPresale: req.DiscountedPresale.contribution(),
		BuyMore:           req.BuyMore,
	})
	if err != nil {
		s.pricingError(w, "average months", err)
		return
	}
	writeJSON(w, http.StatusOK, AverageMonthsResponse{Months: months})
}

// investorID reads and validates the {id} path value.
func (s *Server) investorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	return id, s.validInvestor(w, id)
}

func (s *Server) validInvestor(w http.ResponseWriter, id string) bool {
	if id == "" {
		writeError(w, http.StatusBadRequest, "investor id is required")
		return false
	}
	if !s.checkAddresses {
		return true
	}
	if err := identity.ValidateAddress(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints are disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			s.metrics.RecordHTTPRequest(route, rec.code, time.Since(start).Seconds())
		})
	}
}

func (s *Server) ledgerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInvestor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAllocationReduced), errors.Is(err, ledger.ErrStartTimeLocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.internalError(w, op, err)
	}
}

func (s *Server) pricingError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidInput), errors.Is(err, pricing.ErrInvalidRound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pricing.ErrNoInvestment):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pricing.ErrPoolExhausted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.internalError(w, op, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Printf("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
