// Package admin serves the policy administration API.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/manenim/admission-gate/pkg/policy"
)

const HeaderAdminKey = "X-Admin-Key"

// PolicyStore is the part of *policy.Store the API needs.
type PolicyStore interface {
	Snapshot() *policy.Set
	Update(ctx context.Context, p policy.Patch) (*policy.Set, error)
}

type API struct {
	store    PolicyStore
	adminKey string
	logger   *zap.Logger
}

func New(store PolicyStore, adminKey string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{store: store, adminKey: adminKey, logger: logger}
}

// Register mounts the API under g, e.g. router.Group("/admin").
func (a *API) Register(g *gin.RouterGroup) {
	g.Use(a.requireKey())
	g.GET("/policies", a.getPolicies)
	g.POST("/policies", a.postPolicies)
}

func (a *API) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.adminKey == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}
		key := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (a *API) getPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.Snapshot())
}

func (a *API) postPolicies(c *gin.Context) {
	patch, err := policy.DecodePatch(c.Request.Body)
	if err == nil {
		var set *policy.Set
		if set, err = a.store.Update(c.Request.Context(), patch); err == nil {
			a.logger.Info("policies updated")
			c.JSON(http.StatusOK, gin.H{"ok": true, "policies": set})
			return
		}
	}

	var verr *policy.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policies", "details": verr.Error()})
		return
	}
	a.logger.Error("policy update failed", zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "policy store unavailable"})
}
