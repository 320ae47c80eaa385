package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
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

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// Wrap returns a copy of e carrying err. The shared values below are never
// mutated.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithDetails returns a copy of e with a response payload attached.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error types
var (
	ErrBadRequest         = New(http.StatusBadRequest, "Bad request", nil)
	ErrNotFound           = New(http.StatusNotFound, "Not found", nil)
	ErrConflict           = New(http.StatusConflict, "Conflict", nil)
	ErrPayloadTooLarge    = New(http.StatusRequestEntityTooLarge, "Payload too large", nil)
	ErrUnprocessable      = New(http.StatusUnprocessableEntity, "Unprocessable entity", nil)
	ErrTooManyRequests    = New(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", nil)
	ErrInternalServer     = New(http.StatusInternalServerError, "Internal server error", nil)
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "Service unavailable", nil)
)

// Import error types
var (
	ErrValidation          = New(http.StatusUnprocessableEntity, "Import batch failed validation", nil)
	ErrIdentifierCollision = New(http.StatusConflict, "Identifier already in use", nil)
	ErrCommitRolledBack    = New(http.StatusInternalServerError, "Import commit failed and was rolled back", nil)
	ErrCommitIncomplete    = New(http.StatusInternalServerError, "Import commit failed and rollback was incomplete", nil)
)

// ErrorMiddleware renders the last error attached with c.Error. Errors that
// are not an *Error are reported as internal server errors.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		var appErr *Error
		if !stderrors.As(err, &appErr) {
			appErr = ErrInternalServer.Wrap(err)
		}
		c.JSON(appErr.Code, appErr)
		c.Abort()
	}
}
