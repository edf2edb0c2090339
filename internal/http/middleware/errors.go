package middleware

import "github.com/gin-gonic/gin"

func abortWithError(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"kind": kind, "error": msg})
}
