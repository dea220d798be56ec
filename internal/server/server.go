// Package server exposes the search core over HTTP: the radius search, the
// competitor lookup, the IAE typology admin endpoint, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xeipuuv/gojsonschema"

	"leadscout/internal/common/config"
	apperrors "leadscout/internal/common/errors"
	"leadscout/internal/common/logger"
	"leadscout/internal/common/observability"
	"leadscout/internal/leads"
)

// SearchService is the application surface the HTTP layer fronts.
type SearchService interface {
	Search(ctx context.Context, query leads.SearchQuery) (*leads.SearchResult, error)
	Competitors(ctx context.Context, businessID string, query leads.SearchQuery) (*leads.SearchResult, error)
	UpsertTypology(ctx context.Context, cat leads.TypologyCategory) (*leads.TypologyCategory, error)
}

// typologySchema validates the IAE admin payload before it reaches the
// repository. valor_tipologia shares the 0-1000 range of the scoring input.
const typologySchema = `{
	"type": "object",
	"properties": {
		"iae_code":        {"type": "string", "minLength": 2, "maxLength": 16},
		"valor_tipologia": {"type": "integer", "minimum": 0, "maximum": 1000}
	},
	"required": ["iae_code", "valor_tipologia"],
	"additionalProperties": false
}`

type Server struct {
	httpServer *http.Server
	service    SearchService
	obs        *observability.Observability
	logger     logger.Logger

	shutdownTimeout time.Duration
	schemaLoader    gojsonschema.JSONLoader
}

func New(cfg config.ServerConfig, service SearchService, obs *observability.Observability, log logger.Logger) *Server {
	s := &Server{
		service:         service,
		obs:             obs,
		logger:          log.WithFields(map[string]interface{}{"component": "http-server"}),
		shutdownTimeout: time.Duration(cfg.ShutdownTimeout) * time.Millisecond,
		schemaLoader:    gojsonschema.NewStringLoader(typologySchema),
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Millisecond,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/businesses/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/businesses/{id}/competitors", s.handleCompetitors)
	mux.HandleFunc("POST /api/v1/iae", s.handleUpsertTypology)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	query, err := queryFromRequest(r)
	if err != nil {
		s.writeError(w, r, "search", err)
		return
	}

	result, err := s.service.Search(r.Context(), query)
	if err != nil {
		s.writeError(w, r, "search", err)
		return
	}

	s.obs.RecordRequest(r.Context(), "search", "success")
	s.obs.RecordRequestDuration(r.Context(), "search", time.Since(start))
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCompetitors(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	businessID := r.PathValue("id")
	if strings.TrimSpace(businessID) == "" {
		s.writeError(w, r, "competitors", apperrors.NewInvalidQueryError("business id must not be empty"))
		return
	}

	query, err := queryFromRequest(r)
	if err != nil {
		s.writeError(w, r, "competitors", err)
		return
	}

	result, err := s.service.Competitors(r.Context(), businessID, query)
	if err != nil {
		s.writeError(w, r, "competitors", err)
		return
	}

	s.obs.RecordRequest(r.Context(), "competitors", "success")
	s.obs.RecordRequestDuration(r.Context(), "competitors", time.Since(start))
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpsertTypology(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.writeError(w, r, "upsert_typology", apperrors.NewInvalidQueryError("unreadable request body"))
		return
	}

	validation, err := gojsonschema.Validate(s.schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		s.writeError(w, r, "upsert_typology", apperrors.NewInvalidQueryError(fmt.Sprintf("malformed JSON: %v", err)))
		return
	}
	if !validation.Valid() {
		details := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			details = append(details, desc.String())
		}
		s.writeError(w, r, "upsert_typology", apperrors.NewInvalidQueryError(strings.Join(details, "; ")))
		return
	}

	var cat leads.TypologyCategory
	if err := json.Unmarshal(body, &cat); err != nil {
		s.writeError(w, r, "upsert_typology", apperrors.NewInvalidQueryError(err.Error()))
		return
	}

	stored, err := s.service.UpsertTypology(r.Context(), cat)
	if err != nil {
		s.writeError(w, r, "upsert_typology", err)
		return
	}

	s.obs.RecordRequest(r.Context(), "upsert_typology", "success")
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryFromRequest parses lat/lon/radius query parameters. All three are
// required; range checks live in SearchQuery.Validate, not here.
func queryFromRequest(r *http.Request) (leads.SearchQuery, error) {
	var query leads.SearchQuery

	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"lat", &query.Lat},
		{"lon", &query.Lon},
		{"radius", &query.RadiusM},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			return query, apperrors.NewInvalidQueryError(fmt.Sprintf("missing required parameter %q", p.name))
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return query, apperrors.NewInvalidQueryError(fmt.Sprintf("parameter %q is not a number: %s", p.name, raw))
		}
		*p.dst = v
	}

	return query, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	stdErr, ok := apperrors.AsStandardError(err)
	if !ok {
		stdErr = &apperrors.StandardError{
			Code:      "INTERNAL_ERROR",
			Message:   "Unexpected internal error",
			Timestamp: time.Now().UTC(),
		}
	}

	status := apperrors.HTTPStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed", map[string]interface{}{
			"operation": operation, "status": status,
		})
	}

	s.obs.RecordRequest(r.Context(), operation, "error")
	s.writeJSON(w, status, map[string]interface{}{"error": stdErr})
}
