package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// TriggerSync runs one live service to completion. A client disconnect
// does not abort the run; sync.timeout still bounds it.
// POST /api/sync/:service
func (h *Handler) TriggerSync(c echo.Context) error {
	res, err := h.runner.SyncOne(context.WithoutCancel(c.Request().Context()), c.Param("service"))
	if err != nil {
		return errorJSON(c, runStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, okResponse(res))
}
