package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errcode"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/response"
)

// errorCode maps a service error onto an API code and a message that is
// safe to return to the client.
func errorCode(err error) (int, string) {
	var (
		answerErr *appErr.AnswerError
		validErr  *appErr.ValidationError
		fetchErr  *appErr.FetchError
	)
	switch {
	case errors.As(err, &answerErr):
		return errcode.ErrAnswerFailed, answerErr.Message
	case errors.As(err, &validErr):
		return errcode.ErrInvalid, validErr.Error()
	case appErr.IsInvalid(err):
		return errcode.ErrInvalid, "invalid request"
	case appErr.IsNotFound(err):
		return errcode.ErrNotFound, "not found"
	case appErr.IsConflict(err):
		return errcode.ErrConflict, "conflict"
	case errors.As(err, &fetchErr):
		return errcode.ErrFetchFailed, fetchErr.Error()
	case errors.Is(err, appErr.ErrUnavailable), appErr.IsTransient(err):
		return errcode.ErrAIUnavailable, "upstream service unavailable"
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, "too many requests"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	requestID, _ := c.Get("request_id")
	logger := logutil.GetLogger(c.Request.Context())
	fields := []zap.Field{
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("code", code),
		zap.Error(err),
	}
	if code == errcode.ErrInternal {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request failed", fields...)
	}
	response.Error(c, code, msg)
}

func invalid(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrInvalid, msg)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if value := c.Query(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
