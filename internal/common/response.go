package common

import (
	"github.com/gin-gonic/gin"
)

// OK writes body as-is; the public endpoints have fixed response shapes.
func OK(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"error": msg,
		"code":  code,
	})
}

// FailDetail is Fail with an extra diagnostic message, used where a caller
// (e.g. the payment provider's retry log) benefits from the cause.
func FailDetail(c *gin.Context, httpStatus int, code int, msg, detail string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"error":   msg,
		"message": detail,
		"code":    code,
	})
}
