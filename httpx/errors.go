package httpx

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Statuses the storefront API answers with.
const (
	StatusOK                 = http.StatusOK
	StatusCreated            = http.StatusCreated
	StatusNoContent          = http.StatusNoContent
	StatusBadRequest         = http.StatusBadRequest
	StatusUnauthorized       = http.StatusUnauthorized
	StatusForbidden          = http.StatusForbidden
	StatusNotFound           = http.StatusNotFound
	StatusTooManyRequests    = http.StatusTooManyRequests
	StatusInternalError      = http.StatusInternalServerError
	StatusServiceUnavailable = http.StatusServiceUnavailable
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// defaultHTTPErrorHandler renders err as an ErrorBody. Errors that are not
// *echo.HTTPError become a bare 500 so internals never leak to clients.
func defaultHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := StatusInternalError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch m := he.Message.(type) {
		case string:
			msg = m
		case error:
			msg = m.Error()
		}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, ErrorBody{Error: msg})
}
