package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lenslink/cloud/internal/wire"
)

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, message string, code wire.ErrorCode) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewAPIError(message, code, nil))
}
