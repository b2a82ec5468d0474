package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/deskflow/automation/actions"
	"github.com/deskflow/automation/automation"
	"github.com/deskflow/automation/internal/logger"
	"github.com/deskflow/automation/registry"
)

// Server exposes message ingestion plus the thin administrative
// surface around the automation engine.
type Server struct {
	db             *sql.DB
	store          automation.RuleStore
	executor       *automation.DispatchExecutor
	registry       *registry.Registry
	router         *chi.Mux
	processTimeout time.Duration
}

func newServer(db *sql.DB, store automation.RuleStore, analyzer automation.Analyzer, executor *automation.DispatchExecutor, processTimeout time.Duration) *Server {
	s := &Server{
		db:             db,
		store:          store,
		executor:       executor,
		registry:       registry.New(store, analyzer, executor),
		processTimeout: processTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Post("/api/v1/messages", s.handleProcessMessage)
	r.Get("/api/v1/metrics", s.handleAggregateMetrics)

	r.Route("/api/v1/tenants/{tenantId}", func(r chi.Router) {
		r.Get("/metrics", s.handleTenantMetrics)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/reload", s.handleReloadRules)

			r.Route("/{ruleId}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/toggle", s.handleToggleRule)
				r.Post("/test", s.handleTestRule)
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"tenants": len(s.registry.Tenants()),
	})
}

// handleProcessMessage routes one normalized inbound message through
// the tenant's engine. The whole cycle runs under a deadline so a hung
// provider or webhook cannot stall the caller indefinitely.
func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req processMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId is required", nil)
		return
	}
	if req.Message.Content == "" && req.Message.Subject == "" {
		respondError(w, http.StatusBadRequest, "message content is required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.processTimeout)
	defer cancel()

	result, err := s.registry.ProcessMessage(ctx, req.TenantID, req.Message.toMessage())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process message", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	rules, err := s.store.FindByTenant(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rules == nil {
		rules = []*automation.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(uuid.New().String(), tenantID)
	for i := range rule.Actions {
		if rule.Actions[i].ID == "" {
			rule.Actions[i].ID = uuid.New().String()
		}
	}

	if err := registry.ValidateRule(rule, s.executor); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.store.Add(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}
	if err := s.registry.SyncRule(r.Context(), tenantID, rule.ID); err != nil {
		logger.Warn("rule created but engine sync failed",
			"tenantId", tenantID, "ruleId", rule.ID, "error", err.Error())
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.store.FindByID(r.Context(), ruleID, tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}
	if rule == nil {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(ruleID, tenantID)
	if err := registry.ValidateRule(rule, s.executor); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.store.Update(r.Context(), rule); err != nil {
		respondError(w, http.StatusNotFound, "failed to update rule", err)
		return
	}
	if err := s.registry.SyncRule(r.Context(), tenantID, ruleID); err != nil {
		logger.Warn("rule updated but engine sync failed",
			"tenantId", tenantID, "ruleId", ruleID, "error", err.Error())
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.store.Delete(r.Context(), ruleID, tenantID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	if err := s.registry.SyncRule(r.Context(), tenantID, ruleID); err != nil {
		logger.Warn("rule deleted but engine sync failed",
			"tenantId", tenantID, "ruleId", ruleID, "error", err.Error())
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req toggleRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.store.FindByID(r.Context(), ruleID, tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}
	if rule == nil {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}

	rule.Enabled = req.Enabled
	if err := s.store.Update(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to toggle rule", err)
		return
	}
	if err := s.registry.SyncRule(r.Context(), tenantID, ruleID); err != nil {
		logger.Warn("rule toggled but engine sync failed",
			"tenantId", tenantID, "ruleId", ruleID, "error", err.Error())
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req testRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.processTimeout)
	defer cancel()

	result, err := s.registry.TestRule(ctx, tenantID, ruleID, req.Message.toMessage())
	if err != nil {
		respondError(w, http.StatusNotFound, "failed to test rule", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	if err := s.registry.ReloadRules(r.Context(), tenantID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleTenantMetrics(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	metrics, err := s.registry.TenantMetrics(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics", err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleAggregateMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"engines":        s.registry.AggregateMetrics(),
		"regexFailures":  logger.RegexFailures.Load(),
		"aiFallbacks":    logger.AIFallbacks.Load(),
		"actionFailures": logger.ActionFailures.Load(),
		"ruleFailures":   logger.RuleFailures.Load(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Fatal("failed to open database", "error", err.Error())
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", "error", err.Error())
	}

	processTimeout := 30 * time.Second
	if v := os.Getenv("PROCESS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			processTimeout = d
		}
	}

	executor := automation.NewDispatchExecutor()
	actions.RegisterDefaults(executor, actions.Deps{
		Sender:  &loggingSender{},
		Tickets: &loggingTicketCreator{},
		Tagger:  &loggingTagger{},
	})

	server := newServer(db, automation.NewPostgresRuleStore(db), automation.NewHeuristicAnalyzer(), executor, processTimeout)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err.Error())
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
}
