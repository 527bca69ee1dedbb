package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/escrow/service"
	"github.com/nemanja-m/escrowd/internal/shared/config"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

const maxBodyBytes = 64 << 10

// HealthReporter exposes the latest health probe.
type HealthReporter interface {
	Report() service.HealthReport
}

type API struct {
	service core.EscrowService
	info    core.ServiceInfo
	health  HealthReporter
	clock   clock.Clock
	logger  logging.Logger
}

type APIOption func(*API)

// WithAPIClock sets the clock used to resolve relative deadlines.
func WithAPIClock(c clock.Clock) APIOption {
	return func(a *API) { a.clock = c }
}

func NewAPI(svc core.EscrowService, info core.ServiceInfo, health HealthReporter, logger logging.Logger, opts ...APIOption) *API {
	a := &API{
		service: svc,
		info:    info,
		health:  health,
		clock:   clock.New(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/", a.serviceInfo)
	r.Get("/jobs/count", a.jobCount)
	r.Get("/job/{id}", a.getJob)
	r.Post("/job/create", a.createJob)
	r.Post("/job/{id}/submit", a.submitWork)
	r.Post("/job/{id}/approve", a.transition(core.ApproveWork{}))
	r.Post("/job/{id}/cancel", a.transition(core.CancelJob{}))
	r.Post("/job/{id}/dispute", a.transition(core.DisputeJob{}))
	r.Post("/job/{id}/resolve", a.transition(core.ResolveDispute{}))
	r.Get("/tx/{hash}", a.transactionStatus)
}

// serviceInfo handles GET /
func (a *API) serviceInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ServiceInfoResponse{
		Name:     a.info.Name,
		Version:  a.info.Version,
		Contract: a.info.Contract.Hex(),
		Network:  a.info.Network,
		Signer:   a.service.Signer().Hex(),
		FeeBps:   a.service.FeeBasisPoints(),
	})
}

// healthz handles GET /healthz
func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", LedgerReachable: true})
		return
	}
	report := a.health.Report()
	code := http.StatusOK
	if !report.Healthy() {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, ToHealthResponse(report))
}

// jobCount handles GET /jobs/count
func (a *API) jobCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.service.JobCount(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, JobCountResponse{Count: fmt.Sprint(count)})
}

// getJob handles GET /job/{id}
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := a.jobID(w, r)
	if !ok {
		return
	}
	job, err := a.service.Query(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ToJobResponse(job, a.service.Projector(), a.service.FeeBasisPoints()))
}

// createJob handles POST /job/create
func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !a.decode(w, r, &req) {
		return
	}

	var deadline time.Time
	switch {
	case req.Deadline != nil:
		deadline = *req.Deadline
	case req.DeadlineHours != nil:
		var err error
		if deadline, err = core.DeadlineFromHours(a.clock.Now(), *req.DeadlineHours); err != nil {
			a.respondError(w, r, err)
			return
		}
	default:
		a.respondError(w, r, core.NewError(core.KindValidation, "parse", errors.New("deadline or deadline_hours is required")))
		return
	}

	action, err := core.ParseCreateJob(a.service.Projector(), req.Worker, req.Amount, deadline)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.execute(w, r, core.TransitionRequest{Action: action}, http.StatusCreated)
}

// submitWork handles POST /job/{id}/submit
func (a *API) submitWork(w http.ResponseWriter, r *http.Request) {
	id, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var req SubmitWorkRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.execute(w, r, core.TransitionRequest{JobID: id, Action: core.SubmitWork{Deliverable: req.Deliverable}}, http.StatusOK)
}

// transition handles the payload-free POST /job/{id}/<action> routes.
func (a *API) transition(action core.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := a.jobID(w, r)
		if !ok {
			return
		}
		a.execute(w, r, core.TransitionRequest{JobID: id, Action: action}, http.StatusOK)
	}
}

// transactionStatus handles GET /tx/{hash}
func (a *API) transactionStatus(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "hash")
	if len(raw) != 66 || !isHex(raw[2:]) || raw[:2] != "0x" {
		a.respondError(w, r, core.NewError(core.KindValidation, "parse", fmt.Errorf("invalid transaction hash %q", raw)))
		return
	}
	st, err := a.service.TransactionStatus(r.Context(), common.HexToHash(raw))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ToTxStatusResponse(st, a.info))
}

func (a *API) execute(w http.ResponseWriter, r *http.Request, req core.TransitionRequest, successCode int) {
	out, err := a.service.Execute(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, successCode, ToTransitionResponse(out, a.info, a.service.Projector(), a.service.FeeBasisPoints()))
}

func (a *API) jobID(w http.ResponseWriter, r *http.Request) (core.JobID, bool) {
	id, err := core.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, core.NewError(core.KindValidation, "parse", err))
		return 0, false
	}
	return id, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		a.respondError(w, r, core.NewError(core.KindValidation, "parse", fmt.Errorf("invalid request body: %w", err)))
		return false
	}
	return true
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ToErrorResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		a.logger.Error("Request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"kind", resp.Error,
			"tx_hash", resp.TxHash,
			"error", err,
		)
	}
	respondJSON(w, resp.Code, resp)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func isHex(s string) bool {
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

type RouterOption func(*routerOptions)

type routerOptions struct {
	registry *prometheus.Registry
}

// WithRegistry serves /metrics from reg and registers the HTTP metrics into
// it. The caller owns any runtime collectors on reg.
func WithRegistry(reg *prometheus.Registry) RouterOption {
	return func(o *routerOptions) { o.registry = reg }
}

// NewRouter mounts the API with its middleware. /healthz and /metrics are
// exempt from rate limiting.
func NewRouter(api *API, cfg config.RESTConfig, logger logging.Logger, opts ...RouterOption) http.Handler {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	registry := o.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := newHTTPMetrics(registry)

	r := chi.NewRouter()
	r.Use(
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		MetricsMiddleware(metrics),
	)
	r.Get("/healthz", api.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	limiter := NewKeyLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0)
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, logger))
		api.RegisterRoutes(r)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   string(core.KindNotFound),
			Message: "route not found",
			Code:    http.StatusNotFound,
		})
	})
	return r
}

func NewServer(cfg config.RESTConfig, api *API, logger logging.Logger, opts ...RouterOption) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(api, cfg, logger, opts...),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
