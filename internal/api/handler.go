// Package api provides the HTTP trigger surface and read endpoints.
package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Napageneral/memsync/internal/adapters"
	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/metrics"
	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/store"
	"github.com/Napageneral/memsync/internal/sync"
)

// Handler handles HTTP requests.
type Handler struct {
	db        *sql.DB
	store     *store.Store
	runner    *sync.Runner
	config    *config.Config
	uploadDir string
}

// NewHandler creates a new handler. Uploads are staged under uploadDir.
func NewHandler(runner *sync.Runner, uploadDir string) *Handler {
	return &Handler{
		db:        runner.DB,
		store:     runner.Store,
		runner:    runner,
		config:    runner.Config,
		uploadDir: uploadDir,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/stats", h.GetStats)
	e.GET("/api/messages", h.ListMessages)
	e.GET("/api/contacts", h.ListContacts)

	e.GET("/api/sync/status", h.ListSyncStatus)
	e.GET("/api/sync/status/:service", h.GetSyncStatus)
	e.GET("/api/sync/runs", h.ListSyncRuns)
	e.POST("/api/sync/:service", h.TriggerSync)
	e.GET("/api/watch/status", h.WatchStatus)

	e.POST("/api/upload/:kind", h.Upload)

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/health", h.Health)
}

// NewServer builds the echo server with middleware, routes and the static
// dashboard (when server.static_dir exists).
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logging.Log.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))

	h.RegisterRoutes(e)

	if dir := h.config.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			e.Static("/", dir)
		} else {
			logging.Warnf("static dir %s not found, dashboard disabled", dir)
		}
	}
	return e
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// runStatus maps a tracked run error to its HTTP status.
func runStatus(err error) int {
	switch {
	case errors.Is(err, sync.ErrUnknownService):
		return http.StatusBadRequest
	case errors.Is(err, adapters.ErrMissingCredential):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// runResponse is the body of a successful upload or sync trigger.
type runResponse struct {
	OK       bool `json:"ok"`
	Imported int  `json:"imported"`
	sync.ServiceResult
}

func okResponse(res sync.ServiceResult) runResponse {
	return runResponse{OK: true, Imported: res.Inserted, ServiceResult: res}
}
