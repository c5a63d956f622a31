// Package server exposes retrieval over a small JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	ferrors "github.com/framefind/framefind/internal/errors"
	"github.com/framefind/framefind/internal/retrieval"
)

// Server handles HTTP search requests against one orchestrator.
type Server struct {
	orch   *retrieval.Orchestrator
	logger *slog.Logger
}

// New creates a Server. A nil logger falls back to slog.Default.
func New(orch *retrieval.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/v1/search", s.handleSearch)

	return r
}

// searchRequest is the JSON body of POST /v1/search.
type searchRequest struct {
	Query          string             `json:"query"`
	TenantID       string             `json:"tenant_id"`
	VideoID        string             `json:"video_id,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	DenseThreshold float64            `json:"dense_threshold,omitempty"`
	FusionMethod   string             `json:"fusion_method,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	Debug          bool               `json:"debug,omitempty"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    ferrors.ErrCodeInvalidRequest,
			Message: "malformed JSON body",
		}})
		return
	}

	weights := make(map[retrieval.Channel]float64, len(body.Weights))
	for name, wgt := range body.Weights {
		weights[retrieval.Channel(name)] = wgt
	}
	if len(weights) == 0 {
		weights = nil
	}

	resp, err := s.orch.Retrieve(r.Context(), &retrieval.Request{
		Query:          body.Query,
		TenantID:       body.TenantID,
		VideoScopeID:   body.VideoID,
		Limit:          body.Limit,
		DenseThreshold: body.DenseThreshold,
		FusionMethod:   retrieval.FusionMethod(body.FusionMethod),
		Weights:        weights,
		Debug:          body.Debug,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError maps retrieval errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := ferrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case ferrors.ErrCodeInvalidRequest, ferrors.ErrCodeInvalidWeights, ferrors.ErrCodeQueryEmpty:
		status = http.StatusBadRequest
	case ferrors.ErrCodeRetrievalUnavailable:
		status = http.StatusServiceUnavailable
	}

	var fe *ferrors.FrameError
	message := "internal error"
	if errors.As(err, &fe) {
		message = fe.Message
	}

	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
