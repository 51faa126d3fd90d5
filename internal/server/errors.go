package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// JSONErrorHandler returns a custom HTTP error handler so every error,
// including router 404s and middleware rejections, shares the same body.
func JSONErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		if he, ok := err.(*echo.HTTPError); ok {
			category := errInternal
			switch he.Code {
			case http.StatusBadRequest:
				category = errValidation
			case http.StatusUnauthorized:
				category = errAuthDenied
			case http.StatusNotFound:
				category = errNotFound
			case http.StatusTooManyRequests:
				category = errRateLimited
			}
			_ = c.JSON(he.Code, ErrorResponse{
				Error:   category,
				Message: http.StatusText(he.Code),
				Code:    he.Code,
			})
			return
		}

		_ = c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   errInternal,
			Message: "internal server error",
			Code:    http.StatusInternalServerError,
		})
	}
}
