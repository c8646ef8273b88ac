package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/casereview/audit"
	"github.com/liamcoop/casereview/cases"
	"github.com/liamcoop/casereview/internal/logger"
	"github.com/liamcoop/casereview/policy"
	"github.com/liamcoop/casereview/rules"
	"github.com/liamcoop/casereview/semantic"
)

// maxPolicyBytes bounds an uploaded policy document
const maxPolicyBytes = 1 << 20

type Server struct {
	db        *sql.DB
	storage   string
	loadOpts  policy.LoadOptions
	policies  policy.Store
	cases     cases.Store
	audit     audit.Reader
	engine    *rules.Engine
	service   *cases.Service
	contracts *cases.ContractDirectory
	router    *chi.Mux
	closers   []io.Closer
}

// Dependencies are the collaborators a Server runs on. DB is optional and only
// used by the health check.
type Dependencies struct {
	DB        *sql.DB
	Storage   string
	LoadOpts  policy.LoadOptions
	Policies  policy.Store
	Cases     cases.Store
	Audit     audit.Store
	Mirror    audit.Sink
	Semantic  rules.SemanticChecker
	Contracts *cases.ContractDirectory
}

// NewServer wires the stores, caches and audit sinks selected by cfg. Policy
// directory watching runs until ctx is cancelled.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	deps := Dependencies{
		Storage:  "memory",
		LoadOpts: policy.LoadOptions{AllowLegacyDecisions: cfg.AllowLegacyDecisions, Logger: logger.Logger},
	}
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		closers = append(closers, db)

		deps.DB = db
		deps.Storage = "postgres"
		deps.Policies = policy.NewPostgresStore(db, deps.LoadOpts)
		deps.Cases = cases.NewPostgresStore(db)
		deps.Audit = audit.NewPostgresSink(db)
	} else {
		deps.Policies = policy.NewInMemoryStore()
		deps.Cases = cases.NewMemoryStore()
	}

	var dirStore *policy.DirStore
	if cfg.PolicyDir != "" {
		var err error
		dirStore, err = policy.NewDirStore(cfg.PolicyDir, deps.LoadOpts)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to load policy directory: %w", err)
		}
		deps.Policies = dirStore
	}

	cacheConfig := policy.DefaultCacheConfig()
	cacheConfig.TTL = cfg.PolicyCacheTTL
	var cache policy.Cache = policy.NewInMemoryCache(cacheConfig)
	if cfg.RedisURL != "" {
		client, err := policy.NewRedisClient(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			closeAll()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		closers = append(closers, client)
		cache = policy.NewRedisCache(client, cacheConfig, deps.LoadOpts)
	}
	cached := policy.NewCachedStore(deps.Policies, cache)
	deps.Policies = cached

	if dirStore != nil {
		dirStore.OnChange(func() {
			cached.InvalidateAll(context.Background())
			logger.Info("policy directory reloaded", "dir", cfg.PolicyDir)
		})
		go func() {
			if err := dirStore.Watch(ctx); err != nil {
				logger.Error("policy directory watch stopped", "dir", cfg.PolicyDir, "error", err)
			}
		}()
	}

	if deps.Audit == nil {
		if cfg.AuditSQLite != "" {
			sink, err := audit.OpenSQLite(cfg.AuditSQLite)
			if err != nil {
				closeAll()
				return nil, err
			}
			closers = append(closers, sink)
			deps.Audit = sink
		} else {
			deps.Audit = audit.NewMemorySink()
		}
	}

	if cfg.AuditJSONL != "" {
		mirror, err := audit.OpenJSONL(cfg.AuditJSONL)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, mirror)
		deps.Mirror = mirror
	}

	if cfg.ContractsFile != "" {
		contracts, err := cases.LoadContracts(cfg.ContractsFile)
		if err != nil {
			closeAll()
			return nil, err
		}
		deps.Contracts = contracts
		logger.Info("loaded vendor contracts", "count", contracts.Len())
	}

	if cfg.SemanticURL != "" {
		deps.Semantic = semantic.NewHTTPChecker(semantic.HTTPConfig{
			URL:               cfg.SemanticURL,
			Timeout:           cfg.SemanticTimeout,
			RequestsPerSecond: cfg.SemanticRPS,
		})
	}

	s := NewServerWithDeps(deps)
	s.closers = closers
	return s, nil
}

// NewServerWithDeps builds a server over already constructed collaborators
func NewServerWithDeps(deps Dependencies) *Server {
	var sink audit.Sink = deps.Audit
	if deps.Mirror != nil {
		sink = audit.MultiSink{deps.Audit, deps.Mirror}
	}

	opts := []rules.Option{rules.WithAuditSink(sink), rules.WithLogger(logger.Logger)}
	if deps.Semantic != nil {
		opts = append(opts, rules.WithSemanticChecker(deps.Semantic))
	}
	engine := rules.NewEngine(opts...)

	s := &Server{
		db:        deps.DB,
		storage:   deps.Storage,
		loadOpts:  deps.LoadOpts,
		policies:  deps.Policies,
		cases:     deps.Cases,
		audit:     deps.Audit,
		engine:    engine,
		service:   cases.NewService(deps.Cases, deps.Policies, engine, deps.Contracts, logger.Logger),
		contracts: deps.Contracts,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Dry-run evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Decision runs
	r.Post("/api/v1/decisions/run", s.handleRunDecision)

	r.Route("/api/v1/cases/{caseId}", func(r chi.Router) {
		r.Get("/", s.handleGetCase)
		r.Put("/", s.handleSaveCase)
		r.Post("/decisions/run", s.handleRunCaseDecision)
		r.Get("/audit", s.handleGetAudit)
	})

	// Policy management
	r.Route("/api/v1/policies", func(r chi.Router) {
		r.Get("/", s.handleListPolicies)
		r.Get("/{policyId}/versions/{version}", s.handleGetPolicy)
		r.Put("/{policyId}/versions/{version}", s.handlePutPolicy)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases database, cache and audit handles
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Storage:  s.storage,
		Counters: logger.Snapshot(),
		Time:     time.Now().UTC(),
	}
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Dry-run evaluation handler; nothing is audited or persisted
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.PolicyID == "" {
		respondError(w, http.StatusBadRequest, "policy_id is required", nil)
		return
	}
	if req.Inputs == nil && req.Payload == nil {
		respondError(w, http.StatusBadRequest, "inputs or payload is required", nil)
		return
	}
	if req.PolicyVersion == "" {
		req.PolicyVersion = cases.LatestVersion
	}

	p, ok := s.lookupPolicy(w, r, req.PolicyID, req.PolicyVersion)
	if !ok {
		return
	}

	in := rules.Input(req.Inputs)
	if req.Payload != nil {
		in = cases.Normalize(req.Payload, s.contracts)
	}

	startTime := time.Now()
	result, err := s.engine.Evaluate(r.Context(), p, in)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Policy:         p.Ref(),
		Result:         result,
		EvaluationTime: time.Since(startTime).String(),
	})
}

// Run decision handler for a case named in the body
func (s *Server) handleRunDecision(w http.ResponseWriter, r *http.Request) {
	var req RunDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CaseID == "" {
		respondError(w, http.StatusBadRequest, "case_id is required", nil)
		return
	}
	s.runDecision(w, r, req)
}

// Run decision handler for the case in the path. The body is optional.
func (s *Server) handleRunCaseDecision(w http.ResponseWriter, r *http.Request) {
	var req RunDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.CaseID = chi.URLParam(r, "caseId")
	s.runDecision(w, r, req)
}

func (s *Server) runDecision(w http.ResponseWriter, r *http.Request, req RunDecisionRequest) {
	logger.DecisionRuns.Add(1)

	res, err := s.service.RunDecision(r.Context(), req.CaseID, req.PolicyID, req.PolicyVersion)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, newRunDecisionResponse(res))

	case errors.Is(err, cases.ErrAuditIncomplete) && res != nil:
		logger.AuditFailures.Add(1)
		logger.Error("decision run audit incomplete", "case_id", req.CaseID, "run_id", res.Outcome.Run.RunID, "error", err)
		resp := newRunDecisionResponse(res)
		resp.AuditWarning = err.Error()
		respondJSON(w, http.StatusOK, resp)

	case errors.Is(err, cases.ErrCaseNotFound):
		respondError(w, http.StatusNotFound, "case not found", err)

	case errors.Is(err, policy.ErrNotFound):
		respondError(w, http.StatusNotFound, "policy not found", err)

	default:
		logger.Error("decision run failed", "case_id", req.CaseID, "error", err)
		respondError(w, http.StatusInternalServerError, "decision run failed", err)
	}
}

// Get case handler
func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.cases.Get(r.Context(), chi.URLParam(r, "caseId"))
	if err != nil {
		if errors.Is(err, cases.ErrCaseNotFound) {
			respondError(w, http.StatusNotFound, "case not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load case", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Save case handler; creates the case or replaces its payload
func (s *Server) handleSaveCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")

	var req SaveCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Payload == nil {
		respondError(w, http.StatusBadRequest, "payload is required", nil)
		return
	}

	now := time.Now().UTC()
	status := http.StatusOK
	c, err := s.cases.Get(r.Context(), caseID)
	switch {
	case errors.Is(err, cases.ErrCaseNotFound):
		c = &cases.Case{ID: caseID, Status: cases.StatusOpen, CreatedAt: now}
		status = http.StatusCreated
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to load case", err)
		return
	}

	c.Payload = req.Payload
	if req.Status != "" {
		c.Status = req.Status
	}
	c.UpdatedAt = now

	if err := s.cases.Save(r.Context(), c); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save case", err)
		return
	}
	respondJSON(w, status, c)
}

// Audit timeline handler
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")

	events, err := s.audit.ListByCase(r.Context(), caseID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read audit trail", err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respondJSON(w, http.StatusOK, AuditResponse{CaseID: caseID, Events: events})
}

// List policies handler
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	refs, err := s.policies.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list policies", err)
		return
	}
	if refs == nil {
		refs = []policy.Ref{}
	}
	respondJSON(w, http.StatusOK, PoliciesListResponse{Policies: refs})
}

// Get policy handler. ?format=yaml returns the stored document as uploaded.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPolicy(w, r, chi.URLParam(r, "policyId"), chi.URLParam(r, "version"))
	if !ok {
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(p.Document())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ref":    p.Ref(),
		"policy": p,
	})
}

// Put policy handler. The body is a YAML policy document whose policy_id and
// version must match the path.
func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyId")
	version := chi.URLParam(r, "version")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPolicyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read policy document", err)
		return
	}

	p, err := policy.Parse(data, s.loadOpts)
	if err != nil {
		logger.PolicyRejections.Add(1)
		logger.Warn("policy rejected", "policy_id", policyID, "version", version, "error", err)
		respondError(w, http.StatusBadRequest, "invalid policy", err)
		return
	}
	if p.PolicyID != policyID || p.Version != version {
		logger.PolicyRejections.Add(1)
		respondError(w, http.StatusBadRequest, "policy_id and version must match the path",
			fmt.Errorf("document is %s/%s", p.PolicyID, p.Version))
		return
	}

	if err := s.policies.Put(r.Context(), p); err != nil {
		if errors.Is(err, policy.ErrImmutable) {
			respondError(w, http.StatusConflict, "policy version already exists with different content", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to store policy", err)
		return
	}

	logger.Info("policy stored", "policy_id", p.PolicyID, "version", p.Version, "hash", p.Hash())
	respondJSON(w, http.StatusCreated, p.Ref())
}

// lookupPolicy loads a policy version, answering 404 or 500 itself on failure
func (s *Server) lookupPolicy(w http.ResponseWriter, r *http.Request, policyID, version string) (*policy.Policy, bool) {
	var (
		p   *policy.Policy
		err error
	)
	if version == cases.LatestVersion {
		p, err = s.policies.Latest(r.Context(), policyID)
	} else {
		p, err = s.policies.Get(r.Context(), policyID, version)
	}
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			respondError(w, http.StatusNotFound, "policy not found", err)
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, "failed to load policy", err)
		return nil, false
	}
	return p, true
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Init(ctx, logger.ConfigFromEnv())

	cfg, err := ConfigFromEnv()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port, "storage", server.storage)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logger.Error("log pipeline shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
