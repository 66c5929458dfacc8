package webserver

import (
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/mdouchement/rekbox/internal/xpath"
)

// IndexDocument is the index and error document of the website.
const IndexDocument = "index.html"

type site struct {
	logger    logger.Logger
	db        database.Client
	storage   storage.Backend
	principal policy.Principal
	bucket    string
}

func (h *site) Serve(c echo.Context) error {
	c.Set("handler_method", "site.Serve")

	key := xpath.Clean(c.Param("*"))
	if key == "" || strings.HasSuffix(key, "/") {
		key += IndexDocument
	}

	err := h.serve(c, http.StatusOK, key)
	if storage.IsNotFound(err) && key != IndexDocument {
		return storageError(h.serve(c, http.StatusNotFound, IndexDocument))
	}
	return storageError(err)
}

func (h *site) serve(c echo.Context, status int, key string) error {
	downloader := service.NewObjectDownloader(h.db, h.storage, h.principal, h.bucket, key)
	r, err := downloader.Stream(c.Request().Context())
	if err != nil {
		return err
	}
	defer r.Close()

	contentType := downloader.ContentType()
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(key))
	}
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Stream(status, contentType, r)
}
