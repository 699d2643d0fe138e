package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
	"github.com/noah-isme/lms-studio-api/pkg/response"
)

// APIKeyHeader carries the shared key for server-to-server calls.
const APIKeyHeader = "X-Edx-Api-Key"

// APIKey only lets requests through when they present the configured key. An
// empty key rejects every request.
func APIKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(APIKeyHeader)
		if expected == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "You do not have permission to perform this action."))
			c.Abort()
			return
		}
		c.Next()
	}
}
