package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitute-api/pkg/config"
)

// New returns a CORS middleware driven by the CORS section of the config.
// An empty origin list allows every origin.
func New(cfg config.CORSConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowedOrigins) == 0
	originSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		originSet[strings.TrimRight(origin, "/")] = struct{}{}
	}

	headers := strings.Join(cfg.AllowedHeaders, ", ")
	methods := strings.Join(cfg.AllowedMethods, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := allowAll
		if origin != "" && !allowAll {
			_, allowed = originSet[strings.TrimRight(origin, "/")]
		}

		h := c.Writer.Header()
		h.Set("Vary", "Origin")
		if origin != "" && allowed {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		} else if origin == "" && allowAll {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		if headers != "" {
			h.Set("Access-Control-Allow-Headers", headers)
		}
		if methods != "" {
			h.Set("Access-Control-Allow-Methods", methods)
		}
		h.Set("Access-Control-Max-Age", maxAge)

		if c.Request.Method == http.MethodOptions {
			if origin != "" && !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
