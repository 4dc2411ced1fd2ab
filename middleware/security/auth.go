package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"MissionChat/global/response"
	"MissionChat/tools/errs"
	jwtsec "MissionChat/tools/security"
)

// —— context key ——
// 后续模块统一用 UserID(c) 读取
const CtxUserIDKey = "userId"

type Options struct {
	JWT jwtsec.Options
	// 读取哪个查询参数（WebSocket 握手无法带 header 时使用），默认 "token"
	QueryParam string
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		JWT:        jwtsec.DefaultOptions(secret),
		QueryParam: "token",
	}
}

// TokenFromRequest 兼容 Authorization: Bearer xxx 与 ?token=xxx
func TokenFromRequest(r *http.Request, queryParam string) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if queryParam != "" {
		return strings.TrimSpace(r.URL.Query().Get(queryParam))
	}
	return ""
}

// Authenticate resolves the caller of r, or returns an Unauthorized error.
func Authenticate(opts *Options, r *http.Request) (string, error) {
	token := TokenFromRequest(r, opts.QueryParam)
	if token == "" {
		return "", errs.Unauthorized("Not authorized, no token")
	}
	return jwtsec.UserID(opts.JWT, token)
}

func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := Authenticate(opts, c.Request)
		if err != nil {
			response.Fail(c, err)
			return
		}
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID 已认证的调用方；未经过 Middleware 时为空
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
