// Package server exposes statement imports and rule previews over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/concilia/internal/classify"
	"github.com/cleared-dev/concilia/internal/model"
	"github.com/cleared-dev/concilia/internal/store"
)

// maxStatementBytes bounds an uploaded statement.
const maxStatementBytes = 32 << 20

// AccountLookup finds a configured bank account.
type AccountLookup interface {
	Account(id string) (model.BankAccount, bool)
}

// Importer imports one statement for a bank account and previews how a
// single transaction would be classified by the same pipeline.
type Importer interface {
	ImportAccount(ctx context.Context, acct model.BankAccount, file io.Reader, rs []model.Rule) (*model.ImportBatchOutcome, error)
	Preview(tx model.NormalizedTransaction, rs []model.Rule) classify.Preview
}

// BatchStore persists committed batches.
type BatchStore interface {
	CommitBatch(ctx context.Context, o *model.ImportBatchOutcome) error
	Results(ctx context.Context, batchID string) ([]model.ClassificationResult, error)
}

// RuleSource returns the current rule set. It is called once per request so
// edits to the rules file apply without a restart.
type RuleSource func() ([]model.Rule, error)

// Server handles HTTP requests.
type Server struct {
	accounts AccountLookup
	importer Importer
	store    BatchStore
	rules    RuleSource
	logger   *log.Logger
	router   chi.Router
}

// New creates a Server with its routes mounted.
func New(accounts AccountLookup, importer Importer, st BatchStore, rs RuleSource, logger *log.Logger) *Server {
	s := &Server{
		accounts: accounts,
		importer: importer,
		store:    st,
		rules:    rs,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.withLogging)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts/{accountID}/imports", s.handleImport)
		r.Get("/imports/{batchID}", s.handleBatchResults)
		r.Post("/rules/test", s.handleRuleTest)
	})
	return r
}

// handleImport imports the request body as a statement for the account.
// With ?dry_run=true the outcome is returned but not committed.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	acct, ok := s.accounts.Account(accountID)
	if !ok {
		s.respondError(w, r, http.StatusNotFound, "unknown bank account", nil)
		return
	}

	rs, err := s.rules()
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "failed to load rules", err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxStatementBytes)
	out, err := s.importer.ImportAccount(r.Context(), acct, body, rs)
	if err != nil {
		status, msg := importStatus(err)
		s.respondError(w, r, status, msg, err)
		return
	}

	if r.URL.Query().Get("dry_run") == "true" {
		s.writeJSON(w, r, http.StatusOK, out)
		return
	}

	if err := s.store.CommitBatch(r.Context(), out); err != nil {
		if errors.Is(err, store.ErrAlreadyImported) {
			s.respondError(w, r, http.StatusConflict, "statement overlaps a concurrent import", err)
			return
		}
		s.respondError(w, r, http.StatusInternalServerError, "failed to commit batch", err)
		return
	}
	s.logger.Info("batch committed", "account", accountID, "batch", out.BatchID, "results", len(out.Results))
	s.writeJSON(w, r, http.StatusCreated, out)
}

// importStatus maps an import failure to a response status and message.
func importStatus(err error) (int, string) {
	var (
		cfgErr    *model.ConfigurationError
		structErr *model.StructuralParseError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, cfgErr.Error()
	case errors.As(err, &structErr):
		return http.StatusUnprocessableEntity, structErr.Error()
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "statement too large"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "statement parsing timed out"
	default:
		return http.StatusInternalServerError, "import failed"
	}
}

func (s *Server) handleBatchResults(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	results, err := s.store.Results(r.Context(), batchID)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "failed to read results", err)
		return
	}
	if len(results) == 0 {
		s.respondError(w, r, http.StatusNotFound, "batch not found", nil)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"batch_id": batchID,
		"results":  results,
	})
}

// ruleTestRequest is the body of POST /api/rules/test. Rules default to the
// project's rule file when omitted.
type ruleTestRequest struct {
	Description string       `json:"description"`
	Kind        model.TxKind `json:"kind,omitempty"`
	Amount      string       `json:"amount,omitempty"`
	Rules       []model.Rule `json:"rules,omitempty"`
}

func (s *Server) handleRuleTest(w http.ResponseWriter, r *http.Request) {
	var req ruleTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request", err)
		return
	}

	tx, err := previewTransaction(req)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	rs := req.Rules
	if rs == nil {
		if rs, err = s.rules(); err != nil {
			s.respondError(w, r, http.StatusInternalServerError, "failed to load rules", err)
			return
		}
	}

	s.writeJSON(w, r, http.StatusOK, s.importer.Preview(tx, rs))
}

// previewTransaction builds the transaction a rule preview runs against.
// Kind wins over the amount sign; a debit is assumed when neither is given.
func previewTransaction(req ruleTestRequest) (model.NormalizedTransaction, error) {
	tx := model.NormalizedTransaction{Description: strings.TrimSpace(req.Description)}
	if tx.Description == "" {
		return tx, errors.New("description is required")
	}

	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return tx, fmt.Errorf("invalid amount %q", req.Amount)
		}
		tx.Amount = amount
		tx.Kind = model.KindForAmount(amount)
	}

	switch model.TxKind(strings.ToUpper(string(req.Kind))) {
	case "":
		if tx.Kind == "" {
			tx.Kind = model.KindDebit
		}
	case model.KindDebit:
		tx.Kind = model.KindDebit
	case model.KindCredit:
		tx.Kind = model.KindCredit
	default:
		return tx, fmt.Errorf("invalid kind %q", req.Kind)
	}
	return tx, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write json response", "err", err, "path", r.URL.Path)
	}
}

// respondError logs the error and returns a minimal JSON error body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	kv := []any{"status", status, "msg", message, "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context())}
	if err != nil {
		kv = append(kv, "err", err)
	}
	s.logger.Warn("request error", kv...)
	s.writeJSON(w, r, status, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// withLogging logs each request and recovers panics.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "panic", rec, "method", r.Method, "path", r.URL.Path)
				s.respondError(w, r, http.StatusInternalServerError, "internal server error", fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "took", time.Since(start))
	})
}
