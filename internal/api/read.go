package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Napageneral/memsync/internal/live"
	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/store"
)

const maxPageSize = 1000

// GetStats returns per-source counts and date ranges.
// GET /api/stats
func (h *Handler) GetStats(c echo.Context) error {
	stats, err := h.store.Stats(c.Request().Context())
	if err != nil {
		logging.Warnf("failed to read stats: %v", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// ListMessages searches messages, newest first.
// GET /api/messages?search=&source=&sender=&recipient=&limit=50&offset=0
func (h *Handler) ListMessages(c echo.Context) error {
	limit, err := intParam(c, "limit", 50)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if limit <= 0 || limit > maxPageSize {
		return errorJSON(c, http.StatusBadRequest, "limit must be between 1 and 1000")
	}
	if offset < 0 {
		return errorJSON(c, http.StatusBadRequest, "offset must not be negative")
	}

	msgs, err := h.store.SearchMessages(c.Request().Context(), store.MessageFilter{
		Search:    c.QueryParam("search"),
		Source:    c.QueryParam("source"),
		Sender:    c.QueryParam("sender"),
		Recipient: c.QueryParam("recipient"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		logging.Warnf("failed to search messages: %v", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []store.StoredMessage{}
	}
	return c.JSON(http.StatusOK, msgs)
}

// ListContacts lists contacts matching name or alias.
// GET /api/contacts?search=
func (h *Handler) ListContacts(c echo.Context) error {
	contacts, err := h.store.ListContacts(c.Request().Context(), c.QueryParam("search"))
	if err != nil {
		logging.Warnf("failed to list contacts: %v", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	if contacts == nil {
		contacts = []store.Contact{}
	}
	return c.JSON(http.StatusOK, contacts)
}

// ListSyncStatus returns every tracked service.
// GET /api/sync/status
func (h *Handler) ListSyncStatus(c echo.Context) error {
	all, err := state.List(c.Request().Context(), h.db)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, all)
}

// GetSyncStatus returns one service, or last_status "never" if it has not run.
// GET /api/sync/status/:service
func (h *Handler) GetSyncStatus(c echo.Context) error {
	service := c.Param("service")
	st, ok, err := state.GetStatus(c.Request().Context(), h.db, service)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return c.JSON(http.StatusOK, map[string]string{"service": service, "last_status": "never"})
	}
	return c.JSON(http.StatusOK, st)
}

// ListSyncRuns returns recent run history.
// GET /api/sync/runs?service=&limit=20
func (h *Handler) ListSyncRuns(c echo.Context) error {
	limit, err := intParam(c, "limit", 20)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	runs, err := state.Runs(c.Request().Context(), h.db, c.QueryParam("service"), limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

// WatchStatus reports the file watchers.
// GET /api/watch/status
func (h *Handler) WatchStatus(c echo.Context) error {
	statuses, err := live.GetStatuses(h.db, h.config)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, statuses)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
