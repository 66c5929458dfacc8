package webserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/frontend"
	"github.com/mdouchement/rekbox/internal/model"
	middlewarepkg "github.com/mdouchement/rekbox/internal/webserver/middleware"
	"github.com/mdouchement/rekbox/internal/webserver/serializer"
	"github.com/mdouchement/rekbox/internal/webserver/weberror"
)

type images struct {
	logger   logger.Logger
	function *frontend.Function
}

func (h *images) Handle(c echo.Context) error {
	c.Set("handler_method", "images."+c.QueryParam("action"))

	request := frontend.Request{
		Method: c.Request().Method,
		Action: c.QueryParam("action"),
		Key:    c.QueryParam("key"),
	}
	if claims := middlewarepkg.Claims(c); claims != nil {
		request.Subject = claims.Subject
	}

	v, err := h.function.Handle(c.Request().Context(), request)
	if err != nil {
		// Every failure of the compute unit is rendered as a 500 with its code.
		code, message := frontend.CodeInternalError, err.Error()
		if e, ok := err.(*frontend.Error); ok {
			code, message = e.Code, e.Message
		}
		return weberror.NewWithReason(http.StatusInternalServerError, code, message)
	}

	switch v := v.(type) {
	case []*model.Label:
		return c.JSON(http.StatusOK, serializer.Labels(v))
	case *model.Label:
		return c.JSON(http.StatusOK, serializer.Label(v))
	default:
		return c.JSON(http.StatusOK, v)
	}
}
