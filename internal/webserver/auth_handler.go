package webserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/identity"
	"github.com/mdouchement/rekbox/internal/webserver/weberror"
	"github.com/pkg/errors"
)

type (
	auth struct {
		logger logger.Logger
		pool   *identity.Pool
	}

	authParams struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}
)

func (h *auth) SignUp(c echo.Context) error {
	c.Set("handler_method", "auth.SignUp")

	var params authParams
	if err := c.Bind(&params); err != nil {
		return weberror.NewWithReason(http.StatusBadRequest, "InvalidParameter", err.Error())
	}

	identity, err := h.pool.SignUp(c.Request().Context(), params.Username, params.Email, params.Password)
	if err != nil {
		return authError(err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"username":  identity.Username,
		"sub":       identity.Subject,
		"confirmed": identity.Confirmed(),
	})
}

func (h *auth) Confirm(c echo.Context) error {
	c.Set("handler_method", "auth.Confirm")

	var params authParams
	if err := c.Bind(&params); err != nil {
		return weberror.NewWithReason(http.StatusBadRequest, "InvalidParameter", err.Error())
	}

	if err := h.pool.ConfirmSignUp(c.Request().Context(), params.Username, params.Code); err != nil {
		return authError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *auth) Resend(c echo.Context) error {
	c.Set("handler_method", "auth.Resend")

	var params authParams
	if err := c.Bind(&params); err != nil {
		return weberror.NewWithReason(http.StatusBadRequest, "InvalidParameter", err.Error())
	}

	if err := h.pool.ResendCode(c.Request().Context(), params.Username); err != nil {
		return authError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *auth) SignIn(c echo.Context) error {
	c.Set("handler_method", "auth.SignIn")

	var params authParams
	if err := c.Bind(&params); err != nil {
		return weberror.NewWithReason(http.StatusBadRequest, "InvalidParameter", err.Error())
	}

	login := params.Username
	if login == "" {
		login = params.Email
	}

	session, err := h.pool.SignIn(c.Request().Context(), login, params.Password)
	if err != nil {
		return authError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func authError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidParameter):
		return weberror.NewWithReason(http.StatusBadRequest, "InvalidParameter", err.Error())
	case errors.Is(err, identity.ErrUserExists):
		return weberror.NewWithReason(http.StatusConflict, "UsernameExists", err.Error())
	case errors.Is(err, identity.ErrUserNotFound):
		return weberror.NewWithReason(http.StatusNotFound, "UserNotFound", err.Error())
	case errors.Is(err, identity.ErrAlreadyConfirmed):
		return weberror.NewWithReason(http.StatusConflict, "AlreadyConfirmed", err.Error())
	case errors.Is(err, identity.ErrCodeMismatch):
		return weberror.NewWithReason(http.StatusBadRequest, "CodeMismatch", err.Error())
	case errors.Is(err, identity.ErrCodeExpired):
		return weberror.NewWithReason(http.StatusBadRequest, "ExpiredCode", err.Error())
	case errors.Is(err, identity.ErrNotConfirmed):
		return weberror.NewWithReason(http.StatusForbidden, "UserNotConfirmed", err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials):
		return weberror.NewWithReason(http.StatusUnauthorized, "NotAuthorized", err.Error())
	}
	return err
}
