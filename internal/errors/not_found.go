package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lenslink/cloud/internal/wire"
)

// AbortWithNotFound sends a 404 Not Found response and aborts the request.
func AbortWithNotFound(c *gin.Context, message string, code wire.ErrorCode) {
	c.AbortWithStatusJSON(http.StatusNotFound, NewAPIError(message, code, nil))
}
