// Package web serves the sync API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sleepcal/internal/calstore"
	"sleepcal/internal/config"
	"sleepcal/internal/health"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/pipeline"
	"sleepcal/internal/ratelimit"
)

// maxBodyBytes bounds a /sync payload. A month of stage samples is well
// under a megabyte.
const maxBodyBytes = 16 << 20

// Syncer runs one sync request.
type Syncer interface {
	Sync(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// FeedSource renders a calendar as an iCalendar document.
type FeedSource interface {
	Feed(ctx context.Context, calendarID string) ([]byte, error)
}

// Server provides the HTTP API.
type Server struct {
	cfg     *config.Config
	syncer  Syncer
	feeds   FeedSource
	limiter *ratelimit.Limiter
	echo    *echo.Echo
}

// NewServer constructs a new Server. feeds may be nil, in which case no
// feed route is registered.
func NewServer(cfg *config.Config, syncer Syncer, feeds FeedSource) *Server {
	s := &Server{
		cfg:     cfg,
		syncer:  syncer,
		feeds:   feeds,
		limiter: ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour),
		echo:    echo.New(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(requestLogger())
	s.echo.Use(middleware.Recover())
	if s.basicAuthEnabled() {
		s.echo.Use(s.basicAuth())
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on cfg.Listen until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- s.echo.Start(s.cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/sync", s.handleSync, s.rateLimit)
	if s.feeds != nil {
		s.echo.GET("/calendars/:id/feed.ics", s.handleFeed)
	}
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "sleep-calendar-api"})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

type syncRequest struct {
	Email string `json:"email"`
	// Samples is an array of sample objects or an NDJSON string.
	Samples json.RawMessage `json:"samples"`
	Days    *int            `json:"days,omitempty"`
}

type syncResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	EventsSynced int    `json:"events_synced"`
	CalendarID   string `json:"calendar_id"`
	CalendarURL  string `json:"calendar_url,omitempty"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Success: false, Error: msg})
}

// handleSync accepts samples for one user and writes them to that user's
// calendar.
//
// POST /sync {"email": "...", "samples": [...] | "ndjson", "days": 30}
func (s *Server) handleSync(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return fail(c, http.StatusBadRequest, "could not read request body")
	}

	var req syncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fail(c, http.StatusUnprocessableEntity, "request body must be a JSON object")
	}
	if err := pipeline.ValidateEmail(req.Email); err != nil {
		return fail(c, http.StatusUnprocessableEntity, "a valid email is required")
	}
	if len(req.Samples) == 0 {
		return fail(c, http.StatusUnprocessableEntity, "samples are required")
	}
	samples, skipped, err := health.DecodeSamples(req.Samples)
	if err != nil {
		return fail(c, http.StatusUnprocessableEntity, "samples could not be decoded")
	}
	days := s.cfg.LookbackDays
	if req.Days != nil {
		if *req.Days <= 0 {
			return fail(c, http.StatusUnprocessableEntity, "days must be positive")
		}
		days = *req.Days
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.SyncTimeout)
	defer cancel()

	res, err := s.syncer.Sync(ctx, pipeline.Request{
		Samples:      samples,
		Email:        req.Email,
		CalendarName: s.cfg.Calendar.Name,
		LookbackDays: days,
	})
	if err != nil {
		appLog.Error("sync request failed", err, "email", req.Email, "samples", len(samples))
		if pipeline.IsConfigurationError(err) {
			return fail(c, http.StatusUnprocessableEntity, err.Error())
		}
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, syncResponse{
		Success:      true,
		Message:      syncMessage(res, skipped),
		EventsSynced: res.Created,
		CalendarID:   res.CalendarID,
		CalendarURL:  res.CalendarURL,
	})
}

func syncMessage(res pipeline.Result, undecodable int) string {
	if res.Failed > 0 {
		return "some events could not be written"
	}
	if res.SkippedSamples+undecodable > 0 {
		return "some samples were skipped"
	}
	return "sleep data synced"
}

func (s *Server) handleFeed(c echo.Context) error {
	data, err := s.feeds.Feed(c.Request().Context(), c.Param("id"))
	if errors.Is(err, calstore.ErrNotFound) {
		return fail(c, http.StatusNotFound, "calendar not found")
	}
	if err != nil {
		appLog.Error("feed render failed", err, "calendar_id", c.Param("id"))
		return fail(c, http.StatusInternalServerError, "failed to render calendar")
	}
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", data)
}

// rateLimit rejects clients over the per-IP budget.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := ratelimit.ClientIP(c.Request())
		if !s.limiter.Allow(ip) {
			appLog.Warn("rate limit exceeded", "client_ip", ip, "path", c.Path())
			return c.JSON(http.StatusTooManyRequests, errorResponse{
				Success:   false,
				Error:     "Rate limit exceeded. Please try again later.",
				ErrorCode: "RATE_LIMIT_EXCEEDED",
			})
		}
		return next(c)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuth guards everything except / and /health.
func (s *Server) basicAuth() echo.MiddlewareFunc {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/" || p == "/health"
		},
		Realm: "sleepcal",
		Validator: func(u, p string, _ echo.Context) (bool, error) {
			return secureCompare(u, username) && secureCompare(p, password), nil
		},
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			kv := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency.Round(time.Millisecond).String(),
			}
			if v.Error != nil {
				appLog.Error("http request", v.Error, kv...)
				return nil
			}
			appLog.Debug("http request", kv...)
			return nil
		},
	})
}
