package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OK writes a success envelope. Fields in data are merged at the top level
// next to "success".
func OK(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, merge(gin.H{"success": true}, data))
}

// Accepted is OK for work that continues after the response.
func Accepted(c *gin.Context, data gin.H) {
	c.JSON(http.StatusAccepted, merge(gin.H{"success": true}, data))
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
	})
}

// AbortFail is Fail for middleware: it stops the handler chain.
func AbortFail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
	})
}

func merge(base, extra gin.H) gin.H {
	for k, v := range extra {
		if k == "success" {
			continue
		}
		base[k] = v
	}
	return base
}
