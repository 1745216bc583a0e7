package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lenslink/cloud/internal/wire"
)

// AbortWithUnauthorized sends a 401 Unauthorized response and aborts the
// request. code distinguishes a malformed token from a failed signature.
func AbortWithUnauthorized(c *gin.Context, message string, code wire.ErrorCode) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewAPIError(message, code, nil))
}
