package webserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/storage"
	middlewarepkg "github.com/mdouchement/rekbox/internal/webserver/middleware"
	"github.com/mdouchement/rekbox/internal/webserver/serializer"
	"github.com/mdouchement/rekbox/internal/webserver/weberror"
	"github.com/mdouchement/rekbox/internal/xpath"
)

type objects struct {
	logger   logger.Logger
	db       database.Client
	storage  storage.Backend
	role     *policy.Role
	notifier service.Notifier
}

func (h *objects) principal(c echo.Context) policy.Principal {
	var subject string
	if claims := middlewarepkg.Claims(c); claims != nil {
		subject = claims.Subject
	}
	return h.role.Assume(subject)
}

func (h *objects) List(c echo.Context) error {
	c.Set("handler_method", "objects.List")

	prefix := xpath.Clean(c.QueryParam("prefix"))
	objects, err := service.NewObjectLister(h.db, h.principal(c)).List(c.Param("bucket"), prefix)
	if err != nil {
		return storageError(err)
	}

	return c.JSON(http.StatusOK, serializer.Objects(objects))
}

func (h *objects) Upload(c echo.Context) error {
	c.Set("handler_method", "objects.Upload")

	bucket, key := entities(c)
	if key == "" {
		return weberror.NewWithReason(http.StatusBadRequest, "InvalidParameter", "missing object key")
	}

	object := &model.Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: c.Request().Header.Get(echo.HeaderContentType),
	}
	if object.ContentType == "" {
		object.ContentType = echo.MIMEOctetStream
	}

	uploader := service.NewObjectUploader(h.db, h.storage, h.principal(c), object).WithNotifier(h.notifier)
	if err := uploader.Upload(c.Request().Context(), c.Request().Body); err != nil {
		return storageError(err)
	}

	c.Response().Header().Set("Etag", object.Checksum)
	return c.JSON(http.StatusCreated, serializer.Object(object))
}

func (h *objects) Download(c echo.Context) error {
	c.Set("handler_method", "objects.Download")

	bucket, key := entities(c)
	downloader := service.NewObjectDownloader(h.db, h.storage, h.principal(c), bucket, key)
	r, err := downloader.Stream(c.Request().Context())
	if err != nil {
		return storageError(err)
	}
	defer r.Close()

	contentType := downloader.ContentType()
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if downloader.Size() > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(downloader.Size(), 10))
	}
	c.Response().Header().Set("Etag", downloader.Checksum())
	return c.Stream(http.StatusOK, contentType, r)
}

// entities returns the bucket and the cleaned object key of the request.
func entities(c echo.Context) (bucket, key string) {
	bucket, key = xpath.Entities(c.Param("bucket") + "/" + c.Param("*"))
	return bucket, xpath.Clean(key)
}

func storageError(err error) error {
	switch {
	case policy.IsAccessDenied(err):
		return weberror.NewWithReason(http.StatusForbidden, "AccessDenied", err.Error())
	case storage.IsNotFound(err):
		return weberror.NewWithReason(http.StatusNotFound, "NoSuchKey", err.Error())
	}
	return err
}
