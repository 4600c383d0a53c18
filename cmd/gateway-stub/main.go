// Command gateway-stub is an in-memory stand-in for the hosted payment
// provider. It speaks just enough of the provider's API for local development
// and the black-box integration suite: client-credentials tokens, checkout
// session create and lookup, and a test-only endpoint that flips a session
// into a terminal state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/google/uuid"
)

type session struct {
	ID            string `json:"id"`
	PayURL        string `json:"pay_url"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type store struct {
	mu          sync.Mutex
	byID        map[string]*session
	byReference map[string]*session
}

func newStore() *store {
	return &store{
		byID:        make(map[string]*session),
		byReference: make(map[string]*session),
	}
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", "0.0.0.0:9090", "listen address")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s := newStore()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", s.token)
	mux.HandleFunc("POST /v1/checkout/sessions", s.create)
	mux.HandleFunc("GET /v1/checkout/sessions/{id}", s.get)
	mux.HandleFunc("GET /v1/checkout/sessions", s.getByReference)
	mux.HandleFunc("POST /test/sessions/{id}/status", s.setStatus)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway stub listening", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (s *store) token(w http.ResponseWriter, r *http.Request) {
	// Any credentials are accepted; the stub has nothing to protect.
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "stub-" + uuid.NewString(),
		"expires_in":   3600,
	})
}

func (s *store) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
		Amount    string `json:"amount"`
		Currency  string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code": "invalid_request", "message": "reference is required",
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReference[req.Reference]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{
			"code": "duplicate_reference", "message": "session already exists for reference",
		})
		return
	}

	sess := &session{
		ID:        "chk_" + uuid.NewString(),
		Status:    "pending",
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}
	sess.PayURL = "https://pay.stub.invalid/" + sess.ID
	s.byID[sess.ID] = sess
	s.byReference[sess.Reference] = sess

	slog.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("reference", sess.Reference),
		slog.String("amount", sess.Amount))
	writeJSON(w, http.StatusOK, sess)
}

func (s *store) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.byID[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code": "not_found", "message": "unknown session",
		})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *store) getByReference(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.byReference[r.URL.Query().Get("reference")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code": "not_found", "message": "no session for reference",
		})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// setStatus flips a session into paid, failed, or expired. Paid sessions get
// a transaction id the way the real provider assigns one on capture.
func (s *store) setStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code": "invalid_request", "message": "bad body",
		})
		return
	}
	switch req.Status {
	case "paid", "failed", "expired":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code": "invalid_request", "message": "status must be paid, failed, or expired",
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code": "not_found", "message": "unknown session",
		})
		return
	}
	sess.Status = req.Status
	if req.Status == "paid" && sess.TransactionID == "" {
		sess.TransactionID = "txn_" + uuid.NewString()
	}

	slog.Info("session status set",
		slog.String("session_id", sess.ID),
		slog.String("status", sess.Status))
	writeJSON(w, http.StatusOK, sess)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
