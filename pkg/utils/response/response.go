package response

import (
	"net/http"
	"strings"

	"arena/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the error envelope the arena services answer with.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Kind returns the error name used for an HTTP status, e.g. "BadRequest".
func Kind(status int) string {
	return strings.ReplaceAll(http.StatusText(status), " ", "")
}

// Error writes an error envelope with the given status.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorBody{Error: Kind(status), Message: message})
}

// Abort writes an error envelope and stops the handler chain.
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: Kind(status), Message: message})
}

// FromError writes err using the HTTP status its code maps to.
func FromError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	Error(c, Status(code), err.Error())
}

// Status maps an error code onto an HTTP status.
func Status(code errors.ErrorCode) int {
	switch code {
	case errors.Success:
		return http.StatusOK
	case errors.InvalidParams, errors.ValidationFailed, errors.InvalidFormat, errors.RequiredFieldEmpty:
		return http.StatusBadRequest
	case errors.Unauthorized, errors.TokenInvalid, errors.TokenMissing:
		return http.StatusUnauthorized
	case errors.NotFound:
		return http.StatusNotFound
	case errors.ServiceUnavailable:
		return http.StatusServiceUnavailable
	case errors.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
