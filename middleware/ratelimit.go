package middleware

import (
	"net/http"
	"strconv"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
)

// RateLimit 按用户（未认证时按 IP）限流，每秒 perSecond 次
func RateLimit(perSecond int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Second,
		Limit: uint(perSecond),
	})
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: rateLimited,
		KeyFunc:      rateKey,
	})
}

func rateKey(c *gin.Context) string {
	if uid := c.GetString("userId"); uid != "" {
		return "u:" + uid
	}
	return "ip:" + c.ClientIP()
}

func rateLimited(c *gin.Context, info ratelimit.Info) {
	wait := time.Until(info.ResetTime).Round(time.Second)
	if wait < time.Second {
		wait = time.Second
	}
	c.Header("Retry-After", strconv.Itoa(int(wait/time.Second)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"code":    "RateLimited",
		"error":   "Too many requests, try again in " + wait.String(),
	})
}
