package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

func contextWithShortTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
}
