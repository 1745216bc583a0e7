package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lenslink/cloud/internal/wire"
)

// AbortWithInternal sends a 500 Internal Server Error response and aborts the
// request.
func AbortWithInternal(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, NewAPIError(message, wire.ErrorInternal, nil))
}
