package api

import (
	"errors"
	"fmt"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"net/http"
	"parcel-tracking-service/workers/parcel"
	"parcel-tracking-service/workers/parcel/coordinator"
)

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPErrorHandler maps registry errors to status codes and renders every
// error as {"error": "<message>"}. Unexpected errors are logged, not leaked.
func NewHTTPErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, logger, c)
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error, logger *zap.Logger, c echo.Context) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	switch {
	case errors.Is(err, parcel.ErrEntryNotFound):
		return http.StatusNotFound, "entry not found"
	case errors.Is(err, coordinator.ErrNotReady):
		return http.StatusServiceUnavailable, "entry not ready"
	case errors.Is(err, coordinator.ErrClosed):
		return http.StatusConflict, "entry is unloading"
	}

	logger.Error("Unhandled error",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err),
	)

	return http.StatusInternalServerError, "internal server error"
}
