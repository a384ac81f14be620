package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/admission-gate/pkg/policy"
)

type brokenSource struct{}

func (brokenSource) Get(context.Context) ([]byte, error) { return nil, errors.New("down") }
func (brokenSource) Put(context.Context, []byte) error   { return errors.New("down") }

func newRouter(store PolicyStore, key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(store, key, nil).Register(r.Group("/admin"))
	return r
}

func newStore(src policy.Source) *policy.Store {
	return policy.NewStore(policy.Defaults(policy.Rule{Capacity: 100, RefillPerSec: 100.0 / 60, Cost: 1, TTLSeconds: 120}), src)
}

func do(r http.Handler, method, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/admin/policies", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderAdminKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPI_Auth(t *testing.T) {
	store := newStore(policy.NewMemorySource())

	w := do(newRouter(store, ""), http.MethodGet, "", "anything")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"admin disabled"}`, w.Body.String())

	w = do(newRouter(store, "secret"), http.MethodGet, "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(newRouter(store, "secret"), http.MethodGet, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_GetPolicies(t *testing.T) {
	w := do(newRouter(newStore(policy.NewMemorySource()), "secret"), http.MethodGet, "", "secret")
	require.Equal(t, http.StatusOK, w.Code)

	var set policy.Set
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Equal(t, 100.0, set.Global.Capacity)
}

func TestAPI_PostPolicies(t *testing.T) {
	src := policy.NewMemorySource()
	store := newStore(src)
	r := newRouter(store, "secret")

	w := do(r, http.MethodPost, `{"global":{"capacity":10,"refillPerSec":2},"routes":{"/api/heavy":{"capacity":20,"refillPerSec":10}},"tiers":{"premium":{"multiplier":2}}}`, "secret")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		OK       bool       `json:"ok"`
		Policies policy.Set `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, 10.0, resp.Policies.Global.Capacity)

	pol := store.Snapshot().Resolve("/api/heavy", "premium")
	assert.Equal(t, int64(40), pol.Capacity)
	assert.Equal(t, 20.0, pol.RefillPerSec)

	_, err := src.Get(context.Background())
	assert.NoError(t, err, "update must be persisted")
}

func TestAPI_PostMissingGlobalCapacityIsRejected(t *testing.T) {
	store := newStore(policy.NewMemorySource())
	r := newRouter(store, "secret")

	before := do(r, http.MethodGet, "", "secret").Body.String()

	w := do(r, http.MethodPost, `{"global":{"refillPerSec":5}}`, "secret")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid policies", resp["error"])
	assert.Contains(t, resp["details"], "global.capacity")

	assert.JSONEq(t, before, do(r, http.MethodGet, "", "secret").Body.String())
}

func TestAPI_PostMalformedJSON(t *testing.T) {
	w := do(newRouter(newStore(policy.NewMemorySource()), "secret"), http.MethodPost, `{"global":`, "secret")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_PostPersistFailure(t *testing.T) {
	store := newStore(brokenSource{})
	w := do(newRouter(store, "secret"), http.MethodPost, `{"global":{"capacity":1,"refillPerSec":1}}`, "secret")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 100.0, store.Snapshot().Global.Capacity)
}
