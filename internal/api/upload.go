package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/sync"
)

// Upload stages the multipart "file" and runs the matching file adapter.
// WhatsApp uploads take an optional chatName form field, defaulting to the
// uploaded file name.
// POST /api/upload/:kind
func (h *Handler) Upload(c echo.Context) error {
	kind, err := sync.ParseFileKind(c.Param("kind"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "No file uploaded")
	}

	staged, err := h.stage(fh.Filename, func() (io.ReadCloser, error) { return fh.Open() })
	if err != nil {
		logging.Warnf("failed to stage upload %s: %v", fh.Filename, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to store upload")
	}
	defer os.Remove(staged)

	opts := sync.FileOptions{}
	if kind == sync.KindWhatsApp {
		opts.ChatName = strings.TrimSpace(c.FormValue("chatName"))
		if opts.ChatName == "" {
			opts.ChatName = fh.Filename
		}
	}

	res, err := h.runner.ImportFile(context.WithoutCancel(c.Request().Context()), string(kind), staged, opts)
	if err != nil {
		return errorJSON(c, runStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, okResponse(res))
}

// stage copies an upload into the upload dir under a unique name, keeping
// the extension so chat.db snapshots stay recognisable.
func (h *Handler) stage(name string, open func() (io.ReadCloser, error)) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	src, err := open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(h.uploadDir, uuid.NewString()+filepath.Ext(name))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
