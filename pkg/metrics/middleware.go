package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/manenim/admission-gate/pkg/admission"
)

// RequestLatency times every request. The route label is the matched route
// pattern; all unmatched paths share one label.
func (c *Collector) RequestLatency() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = admission.UnmatchedRoute
		}
		c.requestLatency.
			WithLabelValues(route, ctx.Request.Method, strconv.Itoa(ctx.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
