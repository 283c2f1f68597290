package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxRequestBytes = 1 << 20
	retryAfter      = "5"
)

// Explainer processes one explanation request.
type Explainer interface {
	Explain(ctx context.Context, req domain.ExplainRequest) (domain.ExplainResult, error)
}

// Server exposes the explain API alongside health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	explainer  Explainer
	template   *domain.FeatureTemplate
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 API routes.
func NewServer(addr string, explainer Explainer, template *domain.FeatureTemplate, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		explainer: explainer,
		template:  template,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/explain", s.handleExplain)
	mux.HandleFunc("GET /v1/template", s.handleTemplate)
	mux.HandleFunc("GET /v1/audiences", handleAudiences)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  string       `json:"kind"`
	ID    string       `json:"id,omitempty"`
	State domain.State `json:"state,omitempty"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()

	var req domain.ExplainRequest
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("decode request: %v", err),
			Kind:  "bad_request",
		})
		return
	}

	res, err := s.explainer.Explain(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", retryAfter)
		}
		resp := errorResponse{Error: err.Error(), Kind: res.ErrorKind, ID: res.ID}
		if resp.Kind == "" {
			resp.Kind = domain.ErrorKind(err)
		}
		var stage *domain.StageError
		if errors.As(err, &stage) {
			resp.State = stage.State
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTemplate(w http.ResponseWriter, _ *http.Request) {
	row := make(map[string]float64, len(s.template.Columns))
	for i, c := range s.template.Columns {
		row[c] = s.template.Defaults[i]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns":  s.template.Columns,
		"defaults": row,
	})
}

func handleAudiences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"audiences": domain.Audiences})
}

// statusFor maps a pipeline error to an HTTP status. Caller mistakes are
// 4xx, incompatible artifacts 500 and upstream narrative failures 502-504.
func statusFor(err error) int {
	var schema *domain.SchemaMismatchError
	if errors.As(err, &schema) && schema.Stage == "input" {
		return http.StatusBadRequest
	}

	switch domain.ErrorKind(err) {
	case "unknown_feature", "invalid_top_n":
		return http.StatusBadRequest
	case string(domain.KindAuth), string(domain.KindMalformed), string(domain.KindUnavailable):
		return http.StatusBadGateway
	case string(domain.KindTimeout):
		return http.StatusGatewayTimeout
	case string(domain.KindRateLimit), "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
