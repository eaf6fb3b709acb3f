// Package sink implements a development notification sink: a small HTTP
// server that accepts run lifecycle envelopes and renders them for a
// terminal. It exists so an operator can watch a run from another shell
// without pointing the orchestrator at real infrastructure.
package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/logging"
	"github.com/fyrsmithlabs/ralph/internal/notify"
)

// Event is the envelope POSTed by the orchestrator's notifier.
type Event struct {
	RunID     string         `json:"run_id"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Config holds sink server configuration.
type Config struct {
	Host string
	Port int
}

// Server receives and renders notification envelopes.
type Server struct {
	echo   *echo.Echo
	logger *logging.Logger
	config *Config
	out    io.Writer
}

// NewServer creates a sink server. Events are rendered to out; nil means
// stdout.
func NewServer(logger *logging.Logger, cfg *Config, out io.Writer) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8787}
	}
	if out == nil {
		out = os.Stdout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		logger: logger.Named("sink"),
		config: cfg,
		out:    out,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/events", s.handleEvents)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleEvents(c echo.Context) error {
	var ev Event
	if err := c.Bind(&ev); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid event body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if ev.Event == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event field is required")
	}

	fmt.Fprintln(s.out, renderEvent(ev))
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

// renderEvent formats one envelope as a single rendered line plus indented
// extras, colored by severity.
func renderEvent(ev Event) string {
	paint := color.New(color.FgCyan)
	switch ev.Event {
	case notify.EventStoryProgress, notify.EventRunCompleted:
		paint = color.New(color.FgGreen)
	case notify.EventStoryBlocked:
		paint = color.New(color.FgRed)
	case notify.EventStoryUnclassified:
		paint = color.New(color.FgYellow)
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	line := fmt.Sprintf("%s %s %s  %s",
		ts.Format("15:04:05"),
		paint.Sprintf("%-18s", ev.Event),
		ev.RunID,
		ev.Message)

	if len(ev.Extra) > 0 {
		keys := make([]string, 0, len(ev.Extra))
		for k := range ev.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line += fmt.Sprintf("\n    %s=%v", k, ev.Extra[k])
		}
	}
	return line
}

// Handler exposes the underlying HTTP handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "sink listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
