// Package httpapi exposes the gateway over a small HTTP surface: evaluate,
// health, audit verification, SARIF export, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jglowsoap/jimini/internal/auth"
	"github.com/jglowsoap/jimini/internal/engine"
	"github.com/jglowsoap/jimini/internal/gateway"
	"github.com/jglowsoap/jimini/internal/rules"
	"github.com/jglowsoap/jimini/internal/sarif"
)

// Server hosts the gateway API.
type Server struct {
	gw     *gateway.Gateway
	logger *zap.Logger
	srv    *http.Server
}

// NewServer builds the HTTP server on addr.
func NewServer(addr string, gw *gateway.Gateway, logger *zap.Logger) *Server {
	s := &Server{gw: gw, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/audit/verify", s.handleVerify)
	mux.HandleFunc("GET /v1/audit/sarif", s.handleSARIF)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP API listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type evaluateRequest struct {
	APIKey    string `json:"api_key"`
	AgentID   string `json:"agent_id"`
	Text      string `json:"text"`
	Direction string `json:"direction"`
	Endpoint  string `json:"endpoint"`
	RequestID string `json:"request_id,omitempty"`
}

type evaluateResponse struct {
	Action  string   `json:"action"`
	RuleIDs []string `json:"rule_ids"`
	Message string   `json:"message,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	credential := req.APIKey
	if h := r.Header.Get("Authorization"); credential == "" && h != "" {
		credential = h
	}

	dec, err := s.gw.Evaluate(r.Context(), engine.Request{
		Text:      req.Text,
		Direction: rules.Direction(req.Direction),
		Endpoint:  req.Endpoint,
		AgentID:   req.AgentID,
		RequestID: req.RequestID,
	}, credential)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "deadline exceeded")
		return
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := evaluateResponse{
		Action:  string(dec.Action),
		RuleIDs: dec.RuleIDs,
	}
	if dec.ShadowApplied {
		resp.Message = fmt.Sprintf("shadow mode: %s downgraded to allow", dec.EnforcedAction)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Health())
}

func (s *Server) handleVerify(w http.ResponseWriter, _ *http.Request) {
	res, err := s.gw.VerifyAudit()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSARIF(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	doc, err := sarif.Export(s.gw.AuditPath(), date, s.gw.Version())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
