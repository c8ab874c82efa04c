package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blackmichael/altcheck/internal/config"
	"github.com/blackmichael/altcheck/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	secretHeader = "X-Altcheck-Secret"
	maxBodyBytes = 5 << 20
)

// FeedbackHandler runs the feedback check for a published post.
// *domain.FeedbackService satisfies it.
type FeedbackHandler interface {
	HandlePublished(ctx context.Context, postID int64) (domain.Outcome, error)
}

// Server is the HTTP server that receives post status webhooks and exposes
// health, ad hoc scanning and metrics endpoints.
type Server struct {
	cfg        *config.Config
	feedback   FeedbackHandler
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server dispatching webhooks to feedback.
func NewServer(cfg *config.Config, feedback FeedbackHandler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		feedback: feedback,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /hooks/post-status", s.handlePostStatus)
	mux.HandleFunc("POST /scan", s.handleScan)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's routed handler, including request logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type postStatusRequest struct {
	PostID    int64  `json:"post_id"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status"`
}

func (s *Server) handlePostStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("webhook rejected: bad secret", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid "+secretHeader)
		return
	}

	var req postStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "body must be JSON with post_id and new_status")
		return
	}
	if req.PostID <= 0 {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "post_id must be positive")
		return
	}

	if req.NewStatus != string(domain.PostStatusPublished) {
		s.logger.Debug("ignoring status transition", "post_id", req.PostID, "new_status", req.NewStatus)
		writeJSON(w, http.StatusAccepted, map[string]string{"outcome": "ignored"})
		return
	}

	outcome, err := s.feedback.HandlePublished(r.Context(), req.PostID)
	if err != nil {
		s.logger.Error("failed to handle publish", "post_id", req.PostID, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to check post")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"post_id": req.PostID,
		"outcome": outcome,
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	got := r.Header.Get(secretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) == 1
}

// handleScan reports the defects in a raw HTML body without writing anything.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "InvalidRequest", "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "InvalidRequest", "failed to read body")
		return
	}

	report := domain.Scan(string(body))
	counts := make(map[string]int, len(domain.Categories))
	for _, c := range domain.Categories {
		counts[c.String()] = len(report.Elements(c))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"clean":   report.Empty(),
		"defects": counts,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
