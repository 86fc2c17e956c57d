package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VinMeld/go-dm/internal/apperrors"
)

type errorResponse struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
	Detail  string         `json:"detail,omitempty"`
}

func statusOf(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodePermissionDenied:
		return http.StatusForbidden
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodeDataLoss:
		return http.StatusUnprocessableEntity
	case apperrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a stable code and message. The cause is only exposed
// in debug mode.
func (h *Handler) fail(c *gin.Context, err error) {
	resp := errorResponse{Code: apperrors.CodeInternal, Message: "internal error"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
		resp.Message = appErr.Message
	}
	if resp.Code == apperrors.CodeUnknown {
		resp.Code = apperrors.CodeInternal
	}
	status := statusOf(resp.Code)
	if h.debug {
		resp.Detail = err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "code", resp.Code, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", c.Request.Method, "path", c.FullPath(), "code", resp.Code, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}
