package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
)

// HTTPStatus maps an error category to the status the status server answers with.
func HTTPStatus(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrInvalidRequest, apperrors.ErrConfig, apperrors.ErrSizing:
		return http.StatusBadRequest
	case apperrors.ErrExchange, apperrors.ErrNetwork:
		return http.StatusBadGateway
	case apperrors.ErrReconcileTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := apperrors.Wrap(c.Errors.Last().Err)

		status := HTTPStatus(appErr.Type)
		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}

		if status >= 500 {
			logger.LogError(c.Request.Context(), appErr, "status server error", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		c.JSON(status, appErr)
	}
}
