package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchaction"
	"github.com/fentz26/patchward/internal/store"
	"github.com/gorilla/mux"
)

// Version is reported by the health endpoint. It is set by the binary at startup.
var Version = "dev"

// apiHolderID identifies transactions applied inline by the HTTP API.
const apiHolderID = "api"

// StatsProvider reports worker pool statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// ActionRequest is the body of POST /actions/patch.
type ActionRequest struct {
	Phase   string `json:"phase"`
	File    string `json:"file"`
	Patch   string `json:"patch"`
	Reverse bool   `json:"reverse"`
	DryRun  bool   `json:"dry_run"`
}

// SubmitRequest is the body of POST /transactions.
type SubmitRequest struct {
	Actions []models.PatchArgs `json:"actions"`
	DryRun  bool               `json:"dry_run"`
	Async   bool               `json:"async"`
}

// Server provides the HTTP API for patchward.
type Server struct {
	service   *Service
	store     *store.Store
	scheduler StatsProvider
	addr      string
	server    *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, s *store.Store, addr string) *Server {
	return &Server{
		service: service,
		store:   s,
		addr:    addr,
	}
}

// SetScheduler attaches the worker pool reported by GET /workers.
func (s *Server) SetScheduler(p StatsProvider) {
	s.scheduler = p
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/actions/patch", s.handleAction).Methods(http.MethodPost)

	r.HandleFunc("/transactions", s.submitTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions", s.listTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}", s.getTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/runs", s.getTransactionRuns).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/rollback", s.rollbackTransaction).Methods(http.MethodPost)

	r.HandleFunc("/workers", s.handleWorkers).Methods(http.MethodGet)

	return r
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	s.service.logger.Printf("Starting patchward daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Action Handlers ---

// handleAction always answers 200 once an envelope exists; the envelope's
// status field carries the action status.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	phase, err := patchaction.ParsePhase(req.Phase)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.service.RunAction(context.WithoutCancel(r.Context()), patchaction.Request{
		Phase:  phase,
		Args:   models.PatchArgs{File: req.File, Patch: req.Patch, Reverse: req.Reverse},
		DryRun: req.DryRun,
	})
	writeJSON(w, http.StatusOK, res)
}

// --- Transaction Handlers ---

func (s *Server) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	tx, err := s.service.SubmitTransaction(req.Actions, req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}

	if !req.Async {
		// The journal must reach a final state even if the client goes away.
		tx, err = s.service.ApplyTransaction(context.WithoutCancel(r.Context()), tx.ID, apiHolderID)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.service.ListTransactions(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.service.GetTransaction(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) getTransactionRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.GetTransactionRuns(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []models.ToolRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) rollbackTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.service.RollbackTransaction(context.WithoutCancel(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	stats := s.scheduler.GetStats()
	stats["enabled"] = true
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrResourceLocked):
		status = http.StatusConflict
	case errors.Is(err, ErrNoActions), errors.Is(err, patchaction.ErrMissingArgument):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
