// Package response writes the REST envelope shared by handlers and middleware.
package response

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/tools/errs"
)

// Success 写入 {success:true, ...fields}
func Success(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

// Fail 写入 {success:false, code, error}；Internal 只返回通用文案，详情写日志
func Fail(c *gin.Context, err error) {
	ce := errs.As(err)
	if ce.Kind() == errs.KindInternal {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(ce.Status(), gin.H{
		"success": false,
		"code":    ce.Kind(),
		"error":   ce.Msg,
	})
}
