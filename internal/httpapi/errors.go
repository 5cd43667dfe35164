package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/obslog"
	"github.com/park285/cooldown-chess/internal/room"
)

type detailer interface {
	Details() map[string]any
}

func statusFor(err error) int {
	if errors.Is(err, room.ErrAccessDenied) {
		return http.StatusForbidden
	}
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Validation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error envelope {error, code, kind[, retryAfterMs]}.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	code := apperr.CodeOf(err)
	kind := apperr.KindOf(err)

	data := map[string]any{}
	var d detailer
	if errors.As(err, &d) {
		data = d.Details()
	}
	fallback := err.Error()
	if kind == apperr.StoreFailure {
		obslog.L().Error("http_store_failure",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		fallback = "internal error"
	}
	body := gin.H{
		"error": h.msgs.Error(code, data, fallback),
		"code":  code,
		"kind":  kind.String(),
	}
	if ms, ok := data["retryAfterMs"].(int64); ok {
		body["retryAfterMs"] = ms
		secs := (ms + 999) / 1000
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}
	c.AbortWithStatusJSON(status, body)
}

// bindFail turns a JSON decoding failure into a validation error, keeping
// classified errors raised by custom decoders.
func (h *Handler) bindFail(c *gin.Context, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		h.fail(c, err)
		return
	}
	h.fail(c, apperr.Invalid("invalid_request", "invalid payload: %v", err))
}

func (h *Handler) rateLimited(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": h.msgs.Error("rate_limited", nil, "too many requests"),
		"code":  "rate_limited",
		"kind":  apperr.Conflict.String(),
	})
}
