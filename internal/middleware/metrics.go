package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unireg-api/internal/service"
)

// Metrics records per-route request counts and latency. The route template
// is used as the label so /courses/:id does not explode cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
