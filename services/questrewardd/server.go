package questrewardd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"questreward/core/events"
	"questreward/integrations/exports"
	nativecommon "questreward/native/common"
	"questreward/native/questreward"
	"questreward/observability"
)

const maxBodyBytes = 1 << 20

// Server exposes the ledger over HTTP.
type Server struct {
	engine  *questreward.Engine
	pauses  *nativecommon.Pauses
	stream  *events.Stream
	auth    *Authenticator
	limiter *RateLimiter
	audit   *AuditSink
	logger  *slog.Logger
	now     func() time.Time
	router  chi.Router
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithAuditSink exposes the audit trail under /v1/audit.
func WithAuditSink(sink *AuditSink) ServerOption {
	return func(s *Server) { s.audit = sink }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for export timestamps.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer wires the HTTP routes.
func NewServer(engine *questreward.Engine, pauses *nativecommon.Pauses, stream *events.Stream, auth *Authenticator, limiter *RateLimiter, opts ...ServerOption) *Server {
	s := &Server{
		engine:  engine,
		pauses:  pauses,
		stream:  stream,
		auth:    auth,
		limiter: limiter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped with OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "questrewardd")
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/v1/rewarder", s.handleGetRewarder)
		r.Get("/v1/campaigns", s.handleListCampaigns)
		r.Get("/v1/campaigns/{key}", s.handleGetCampaign)
		r.Get("/v1/campaigns/{key}/rewards/{address}", s.handleGetRewards)
		r.Get("/v1/assets/{address}/total", s.handleGetTotal)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Put("/v1/rewarder", s.handleSetRewarder)
		r.Post("/v1/campaigns", s.handleCreateCampaign)
		r.Post("/v1/campaigns/{key}/fund", s.handleFund)
		r.Post("/v1/campaigns/{key}/rewards", s.handleReward)
		r.Post("/v1/campaigns/{key}/claim", s.handleClaim)
		r.Post("/v1/campaigns/{key}/withdraw", s.handleWithdraw)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/v1/campaigns/{key}/export", s.handleExport)
			r.Get("/v1/audit", s.handleAudit)
			r.Post("/admin/pause", s.handlePause)
			r.Post("/admin/resume", s.handleResume)
		})
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		observability.HTTP().Observe(route, r.Method, rec.status, time.Since(started))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r.Context())
		if caller != s.engine.Admin() {
			writeError(w, http.StatusForbidden, questreward.KindUnauthorized, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type rewarderResponse struct {
	Owner    string `json:"owner"`
	Admin    string `json:"admin"`
	Rewarder string `json:"rewarder"`
}

func (s *Server) handleGetRewarder(w http.ResponseWriter, r *http.Request) {
	rewarder, err := s.engine.Rewarder()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rewarderResponse{
		Owner:    s.engine.Owner().Hex(),
		Admin:    s.engine.Admin().Hex(),
		Rewarder: rewarder.Hex(),
	})
}

type setRewarderRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleSetRewarder(w http.ResponseWriter, r *http.Request) {
	var req setRewarderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, err.Error())
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.engine.SetRewarder(caller, addr); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.handleGetRewarder(w, r)
}

type campaignResponse struct {
	Key       string `json:"key"`
	Asset     string `json:"asset"`
	Pool      string `json:"pool"`
	CreatedAt int64  `json:"createdAt"`
}

func newCampaignResponse(c *questreward.Campaign) campaignResponse {
	return campaignResponse{Key: c.Key, Asset: c.Asset.Hex(), Pool: c.Pool.String(), CreatedAt: c.CreatedAt}
}

type createCampaignRequest struct {
	Key   string `json:"key"`
	Asset string `json:"asset"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	assetAddr, err := parseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, err.Error())
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.engine.CreateCampaign(caller, assetAddr, req.Key); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	campaign, err := s.engine.Campaign(req.Key)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCampaignResponse(campaign))
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	keys, err := s.engine.Campaigns()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"campaigns": keys})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.engine.Campaign(campaignKey(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCampaignResponse(campaign))
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type amountResponse struct {
	Amount string `json:"amount"`
	Status string `json:"status"`
}

// writeSettlement answers a claim or withdrawal. A settlement whose transfer
// is still unconfirmed is already booked, so it is reported as accepted.
func (s *Server) writeSettlement(w http.ResponseWriter, r *http.Request, amount *big.Int, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String(), Status: "settled"})
	case errors.Is(err, questreward.ErrTransferPending) && amount != nil:
		s.logger.Warn("settlement awaiting confirmation",
			slog.String("route", r.URL.Path),
			slog.Any("error", err))
		writeJSON(w, http.StatusAccepted, amountResponse{Amount: amount.String(), Status: "pending"})
	default:
		s.writeEngineError(w, r, err)
	}
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, err.Error())
		return
	}
	caller, _ := CallerFrom(r.Context())
	key := campaignKey(r)
	if err := s.engine.Fund(r.Context(), caller, key, amount); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.handleGetCampaign(w, r)
}

type rewardRequest struct {
	Amounts    []string `json:"amounts"`
	Recipients []string `json:"recipients"`
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		amount, err := parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, fmt.Sprintf("amount %d: %v", i, err))
			return
		}
		amounts[i] = amount
	}
	recipients := make([]common.Address, len(req.Recipients))
	for i, raw := range req.Recipients {
		addr, err := parseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, fmt.Sprintf("recipient %d: %v", i, err))
			return
		}
		recipients[i] = addr
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.engine.Reward(r.Context(), caller, amounts, recipients, campaignKey(r)); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	amount, err := s.engine.Claim(r.Context(), caller, campaignKey(r))
	s.writeSettlement(w, r, amount, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	amount, err := s.engine.Withdraw(r.Context(), caller, campaignKey(r))
	s.writeSettlement(w, r, amount, err)
}

type rewardsResponse struct {
	Campaign  string `json:"campaign"`
	Recipient string `json:"recipient"`
	Pending   string `json:"pending"`
	Claimed   string `json:"claimed"`
}

func (s *Server) handleGetRewards(w http.ResponseWriter, r *http.Request) {
	key := campaignKey(r)
	who, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, err.Error())
		return
	}
	pending, err := s.engine.UserRewards(key, who)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	claimed, err := s.engine.ClaimedRewards(key, who)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardsResponse{
		Campaign:  key,
		Recipient: who.Hex(),
		Pending:   pending.String(),
		Claimed:   claimed.String(),
	})
}

func (s *Server) handleGetTotal(w http.ResponseWriter, r *http.Request) {
	assetAddr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, err.Error())
		return
	}
	total, err := s.engine.TotalRewards(assetAddr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": assetAddr.Hex(), "total": total.String()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	key := campaignKey(r)
	campaign, err := s.engine.Campaign(key)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	allocations, err := s.engine.Allocations(key)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var (
		data        []byte
		checksum    string
		contentType string
	)
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "csv":
		data, checksum, err = exports.AllocationsCSV(campaign, allocations, s.now())
		contentType = "text/csv"
	case "jsonl":
		data, checksum, err = exports.AllocationsJSONL(campaign, allocations, s.now())
		contentType = "application/x-ndjson"
	default:
		writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, fmt.Sprintf("unsupported format %q", format))
		return
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Checksum", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, questreward.KindNotFound, "audit trail disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.audit.Recent(r.Context(), strings.TrimSpace(r.URL.Query().Get("campaign")), limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]AuditRecord{"records": records})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

// setPaused toggles the module pause. With a persistent store behind the
// pauses the flag survives a restart.
func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var (
		changed bool
		err     error
	)
	if paused {
		changed, err = s.pauses.Pause(questreward.ModuleName)
	} else {
		changed, err = s.pauses.Resume(questreward.ModuleName)
	}
	if err != nil {
		s.writeEngineError(w, r, fmt.Errorf("%w: persist pause: %v", questreward.ErrStateCommit, err))
		return
	}
	observability.Ledger().SetPause(paused)
	caller, _ := CallerFrom(r.Context())
	s.logger.Info("questreward pause toggled",
		slog.Bool("paused", paused),
		slog.Bool("changed", changed),
		slog.String("caller", caller.Hex()))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusForKind maps an engine error kind onto an HTTP status code.
func StatusForKind(kind string) int {
	switch kind {
	case questreward.KindUnauthorized:
		return http.StatusForbidden
	case questreward.KindInvalidArgument:
		return http.StatusBadRequest
	case questreward.KindAlreadyExists, questreward.KindNothingToClaim, questreward.KindInsufficientPool:
		return http.StatusConflict
	case questreward.KindNotFound:
		return http.StatusNotFound
	case questreward.KindTransferFailed:
		return http.StatusBadGateway
	case questreward.KindModulePaused:
		return http.StatusServiceUnavailable
	case questreward.KindTransferPending:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := questreward.Kind(err)
	status := StatusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("route", r.URL.Path),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
	message := err.Error()
	if errors.Is(err, questreward.ErrStateCommit) || kind == questreward.KindInternal {
		message = "internal error"
	}
	writeError(w, status, kind, message)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, questreward.KindInvalidArgument, "invalid request body")
		return false
	}
	return true
}

// campaignKey returns the decoded {key} path segment. chi matches on the
// escaped path when the request carries one, so encoded reserved characters
// such as %2F arrive still escaped.
func campaignKey(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return raw
	}
	if key, err := url.PathUnescape(raw); err == nil {
		return key
	}
	return raw
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
