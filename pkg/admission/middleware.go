package admission

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set by the middlewares in this package.
const (
	ContextCorrelationID = "correlationId"
	ContextIdentity      = "rateLimitIdentity"
	ContextTier          = "rateLimitTier"
)

const HeaderCorrelationID = "X-Correlation-Id"

// CorrelationID reuses the caller's X-Correlation-Id or generates one, and
// echoes it on the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextCorrelationID, id)
		c.Header(HeaderCorrelationID, id)
		c.Next()
	}
}

// Middleware enforces l on every request. The bucket key uses the request
// path, so the limiter also covers requests that match no route; metrics use
// the matched route pattern.
func Middleware(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		dec := l.Check(c.Request.Context(), Request{
			Route:         c.Request.URL.Path,
			Pattern:       c.FullPath(),
			Header:        c.Request.Header,
			RemoteAddr:    c.Request.RemoteAddr,
			CorrelationID: c.GetString(ContextCorrelationID),
		})

		c.Set(ContextIdentity, dec.Identity.ID())
		c.Set(ContextTier, dec.Identity.Tier)

		if dec.Headers != nil {
			dec.Headers.Write(c.Writer.Header())
		}
		if !dec.Admitted() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}
