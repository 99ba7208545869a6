package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/progress"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type coder interface {
	Code() string
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, code := classifyError(err)
	fields := []zap.Field{zap.String("path", c.FullPath()), zap.Error(err)}
	var coded coder
	if errors.As(err, &coded) {
		fields = append(fields, zap.String("code", coded.Code()))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, records.ErrAnonymous):
		return http.StatusConflict, "identity_changed"
	case errors.Is(err, records.ErrStorageUnreadable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, records.ErrUnknownCollection):
		return http.StatusNotFound, "unknown_collection"
	case errors.Is(err, records.ErrRecordNotFound), errors.Is(err, progress.ErrUnknownFlashcard):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, records.ErrInvalidRecord),
		errors.Is(err, records.ErrInvalidScore),
		errors.Is(err, progress.ErrInvalidMinutes),
		errors.Is(err, progress.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
