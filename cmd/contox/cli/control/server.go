// Package control serves the local HTTP API editors and the CLI use to
// talk to a running watcher.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contox/cli/cmd/contox/cli/capture"
	"github.com/contox/cli/cmd/contox/cli/ingest"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/metrics"
	"github.com/contox/cli/cmd/contox/cli/reconcile"
)

const shutdownTimeout = 2 * time.Second

// Error codes returned in ErrorResponse.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeSendFailed         = "SEND_FAILED"
	CodeNoSession          = "NO_SESSION"
	CodeUnavailable        = "UNAVAILABLE"
)

// Capture is the buffer owner behind the API.
type Capture interface {
	Flush(ctx context.Context, trigger capture.Trigger) (capture.FlushReport, error)
	RecordSave(ctx context.Context, path string) bool
	RecordFocus(path string)
	Status() capture.Status
}

// Sessions ends and reports the remote session.
type Sessions interface {
	EndSession(ctx context.Context) (capture.FlushReport, error)
	State() (reconcile.State, string)
}

// Config configures a Server.
type Config struct {
	Capture  Capture
	Sessions Sessions
	// GitState reports how HEAD is being tracked.
	GitState func() string
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PathRequest is the body of the save and focus endpoints.
type PathRequest struct {
	Path string `json:"path" binding:"required"`
}

// SaveResponse reports whether a save counted as new evidence.
type SaveResponse struct {
	Counted bool `json:"counted"`
}

// FlushResponse wraps a flush report.
type FlushResponse struct {
	Report capture.FlushReport `json:"report"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Capture      capture.Status `json:"capture"`
	SessionState string         `json:"sessionState,omitempty"`
	GitState     string         `json:"gitState,omitempty"`
}

// Server is the control API.
type Server struct {
	cfg    Config
	engine *gin.Engine
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	v1.POST("/flush", s.handleFlush)
	v1.POST("/events/save", s.handleSave)
	v1.POST("/events/focus", s.handleFocus)
	v1.POST("/session/end", s.handleEndSession)
	v1.GET("/status", s.handleStatus)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("control server shutdown: %w", err)
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	logging.Info(logging.WithComponent(ctx, "control"), "control API listening", slog.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// handleFlush handles POST /v1/flush.
//
//	200 OK: FlushResponse
//	412 Precondition Failed: credentials missing, run contox init
//	502 Bad Gateway: send failed; the window was still reset
func (s *Server) handleFlush(c *gin.Context) {
	report, err := s.cfg.Capture.Flush(c.Request.Context(), capture.TriggerManual)
	if err != nil {
		status, code := http.StatusBadGateway, CodeSendFailed
		if ingest.IsCredentialError(err) {
			status, code = http.StatusPreconditionFailed, CodeMissingCredentials
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, FlushResponse{Report: report})
}

func (s *Server) handleSave(c *gin.Context) {
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: CodeInvalidRequest})
		return
	}
	counted := s.cfg.Capture.RecordSave(c.Request.Context(), req.Path)
	c.JSON(http.StatusOK, SaveResponse{Counted: counted})
}

func (s *Server) handleFocus(c *gin.Context) {
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: CodeInvalidRequest})
		return
	}
	s.cfg.Capture.RecordFocus(req.Path)
	c.Status(http.StatusNoContent)
}

// handleEndSession handles POST /v1/session/end.
//
//	200 OK: FlushResponse for the final window of the ended session
//	409 Conflict: no session is being tracked
//	503 Service Unavailable: session reconciliation is disabled
func (s *Server) handleEndSession(c *gin.Context) {
	if s.cfg.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "session tracking is not enabled", Code: CodeUnavailable})
		return
	}
	report, err := s.cfg.Sessions.EndSession(c.Request.Context())
	switch {
	case errors.Is(err, reconcile.ErrNoSession):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeNoSession})
	case err != nil && ingest.IsCredentialError(err):
		c.JSON(http.StatusPreconditionFailed, ErrorResponse{Error: err.Error(), Code: CodeMissingCredentials})
	case err != nil:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: CodeSendFailed})
	default:
		c.JSON(http.StatusOK, FlushResponse{Report: report})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{Capture: s.cfg.Capture.Status()}
	if s.cfg.Sessions != nil {
		state, _ := s.cfg.Sessions.State()
		resp.SessionState = state.String()
	}
	if s.cfg.GitState != nil {
		resp.GitState = s.cfg.GitState()
	}
	c.JSON(http.StatusOK, resp)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ctx := logging.WithComponent(c.Request.Context(), "control")
		logging.LogDuration(ctx, slog.LevelDebug, "control request", start,
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()))
	}
}
