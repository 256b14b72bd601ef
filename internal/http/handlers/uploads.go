package handlers

import (
	"mime"
	"net/http"
	"path"
	"strings"

	"animehub-be/internal/upload"

	"github.com/gin-gonic/gin"
)

type UploadHandler struct {
	Uploads *upload.Store
}

// Serve streams a stored upload. Keys are validated by the store, so
// traversal attempts come back as 400.
func (h *UploadHandler) Serve(c *gin.Context) {
	p := upload.PublicPrefix + strings.TrimLeft(c.Param("path"), "/")
	rc, err := h.Uploads.Open(c.Request.Context(), p)
	if err != nil {
		fail(c, err)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(p))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.DataFromReader(http.StatusOK, -1, ct, rc, nil)
}
