package admission

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/admission-gate/pkg/identity"
	"github.com/manenim/admission-gate/pkg/limiter"
)

func newTestRouter(t *testing.T, l *Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID(), Middleware(l))
	r.GET("/api/hello", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(ContextIdentity), "tier": c.GetString(ContextTier)})
	})
	return r
}

func TestMiddleware_RedisBackedHeaders(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	bucket, err := limiter.NewRedisLimiter(client)
	require.NoError(t, err)
	router := newTestRouter(t, New(identity.NewResolver(), testPolicies(), bucket))

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)

		if i < 5 {
			require.Equal(t, http.StatusOK, last.Code, "request %d", i)
			assert.Equal(t, "5", last.Header().Get(HeaderLimit))
			assert.Equal(t, strconv.Itoa(4-i), last.Header().Get(HeaderRemaining))
			assert.Empty(t, last.Header().Get(HeaderRetryAfter))
		}
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.JSONEq(t, `{"error":"Too Many Requests"}`, last.Body.String())
	assert.Equal(t, "0", last.Header().Get(HeaderRemaining))

	reset, err := strconv.ParseInt(last.Header().Get(HeaderReset), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix()+1, reset, 2)
	retry, err := strconv.Atoi(last.Header().Get(HeaderRetryAfter))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 0)
	assert.LessOrEqual(t, retry, 2)

	assert.True(t, s.Exists("rl:{/api/hello}:{ip:203.0.113.9}"))
}

func TestMiddleware_DegradedAdmitSetsNoHeaders(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	bucket, _ := limiter.NewRedisLimiter(client)
	router := newTestRouter(t, New(identity.NewResolver(), testPolicies(), bucket))
	s.SetError("ERR store down")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/hello", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(HeaderLimit))
	assert.Empty(t, w.Header().Get(HeaderRemaining))
	assert.Empty(t, w.Header().Get(HeaderReset))
}

func TestMiddleware_ExemptSetsNoHeaders(t *testing.T) {
	router := newTestRouter(t, newTestLimiter(limiter.NewMemoryLimiter()))

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	req.Header.Set("X-API-Key", "internal")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(HeaderLimit))
	assert.JSONEq(t, `{"user":"apiKey:internal","tier":"standard"}`, w.Body.String())
}

func TestCorrelationID(t *testing.T) {
	router := newTestRouter(t, newTestLimiter(limiter.NewMemoryLimiter()))

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	req.Header.Set(HeaderCorrelationID, "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderCorrelationID))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/hello", nil))
	assert.Len(t, w.Header().Get(HeaderCorrelationID), 36)
}
