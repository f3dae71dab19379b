package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fitcrm/internal/config"
)

// CORS applies the configured cross-origin policy. Disabled config
// means no headers are added.
func CORS(cfg *config.Config) gin.HandlerFunc {
	cc := cfg.Security.CORS
	if !cc.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	allowAll := len(cc.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(cc.AllowedOrigins))
	for _, origin := range cc.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	methods := strings.Join(cc.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := strings.Join(cc.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Content-Type, Authorization"
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
