package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Kind classifies an error by who is at fault and whether a retry can help.
type Kind string

const (
	// KindClient is a malformed or unsigned request. Never retried server-side.
	KindClient Kind = "client"
	// KindRateLimit means the caller exceeded its request budget.
	KindRateLimit Kind = "rate_limit"
	// KindTransient is a storage or downstream outage. The caller should retry.
	KindTransient Kind = "transient"
	// KindConfiguration is a deployment defect such as a missing secret.
	KindConfiguration Kind = "configuration"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(code int, kind Kind, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Client wraps err as a 400 client error.
func Client(message string, err error) *Error {
	return New(http.StatusBadRequest, KindClient, message, err)
}

// RateLimited builds a 429 error.
func RateLimited(message string) *Error {
	return New(http.StatusTooManyRequests, KindRateLimit, message, nil)
}

// Transient wraps err as a retryable 500.
func Transient(message string, err error) *Error {
	return New(http.StatusInternalServerError, KindTransient, message, err)
}

// Configuration wraps err as a 500 caused by a deployment defect.
func Configuration(message string, err error) *Error {
	return New(http.StatusInternalServerError, KindConfiguration, message, err)
}

// As returns the first *Error in err's chain. Anything unclassified is
// treated as a transient internal error.
func As(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Transient("internal server error", err)
}

// StatusCode returns the HTTP status the error should be rendered with.
func StatusCode(err error) int {
	return As(err).Code
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) Kind {
	return As(err).Kind
}

// IsRetryable reports whether the provider should redeliver after err.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// ErrorMiddleware renders the last error attached with c.Error as
// {"error": "<message>"} and logs it at the level its kind calls for.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := As(c.Errors.Last().Err)
		fields := []zap.Field{
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", appErr.Code),
			zap.Bool("retryable", IsRetryable(appErr)),
		}
		if rid := c.GetString("request_id"); rid != "" {
			fields = append(fields, zap.String("request_id", rid))
		}
		if appErr.Err != nil {
			fields = append(fields, zap.Error(appErr.Err))
		}

		switch appErr.Kind {
		case KindClient, KindRateLimit:
			logger.Warn(appErr.Message, fields...)
		default:
			logger.Error(appErr.Message, fields...)
		}

		c.AbortWithStatusJSON(appErr.Code, gin.H{"error": appErr.Message})
	}
}
