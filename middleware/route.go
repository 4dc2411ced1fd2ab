package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"

	"MissionChat/global/response"
	"MissionChat/tools/errs"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	// 挂在认证之后、handler 之前，例如限流
	Before []gin.HandlerFunc
}

var (
	authMu      sync.RWMutex
	authHandler gin.HandlerFunc = denyAll
)

func denyAll(c *gin.Context) {
	response.Fail(c, errs.Unauthorized("Not authorized, no token"))
}

// SetAuth 设置 IsAuth 路由使用的认证中间件
func SetAuth(h gin.HandlerFunc) {
	authMu.Lock()
	defer authMu.Unlock()
	if h == nil {
		h = denyAll
	}
	authHandler = h
}

func chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	hs := make([]gin.HandlerFunc, 0, len(opt.Before)+2)
	if opt.IsAuth {
		authMu.RLock()
		hs = append(hs, authHandler)
		authMu.RUnlock()
	}
	hs = append(hs, opt.Before...)
	return append(hs, handler)
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, chain(handler, opt)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, chain(handler, opt)...)
}

func PUT(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.PUT(path, chain(handler, opt)...)
}

func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.DELETE(path, chain(handler, opt)...)
}
