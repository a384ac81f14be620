// Package identity derives the caller identity used to partition rate-limit
// state.
package identity

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Namespace string

const (
	NamespaceAPIKey Namespace = "apiKey"
	NamespaceUser   Namespace = "user"
	NamespaceIP     Namespace = "ip"
)

const (
	TierStandard  = "standard"
	TierAnonymous = "anonymous"
)

const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
	HeaderForwardedFor  = "X-Forwarded-For"
)

// Identity is the caller a request is accounted to.
type Identity struct {
	Namespace Namespace
	Key       string
	Tier      string
}

// ID returns the namespaced identity string, e.g. "apiKey:abc" or "ip:10.0.0.1".
func (i Identity) ID() string {
	return string(i.Namespace) + ":" + i.Key
}

// Resolver derives identities from request credentials. The zero value is not
// usable; use NewResolver.
type Resolver struct {
	parser *jwt.Parser
}

func NewResolver() *Resolver {
	return &Resolver{parser: jwt.NewParser()}
}

// Resolve picks the identity in priority order: API key, bearer token
// subject, then client address. It never fails.
//
// Bearer tokens are decoded without verifying their signature. Trust in the
// sub and tier claims is established upstream of this service.
func (r *Resolver) Resolve(h http.Header, remoteAddr string) Identity {
	if key := h.Get(HeaderAPIKey); key != "" {
		return Identity{Namespace: NamespaceAPIKey, Key: key, Tier: TierStandard}
	}

	if id, ok := r.fromBearer(h.Get(HeaderAuthorization)); ok {
		return id
	}

	return Identity{Namespace: NamespaceIP, Key: clientAddr(h, remoteAddr), Tier: TierAnonymous}
}

func (r *Resolver) fromBearer(auth string) (Identity, bool) {
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found || token == "" {
		return Identity{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := r.parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, false
	}
	sub := claimString(claims["sub"])
	if sub == "" {
		return Identity{}, false
	}

	tier := claimString(claims["tier"])
	if tier == "" {
		tier = TierStandard
	}
	return Identity{Namespace: NamespaceUser, Key: sub, Tier: tier}, true
}

// claimString formats a scalar claim, so a numeric sub of 123 becomes "123".
// Objects, arrays and null yield "".
func claimString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case float64, bool, json.Number:
		return fmt.Sprint(c)
	default:
		return ""
	}
}

func clientAddr(h http.Header, remoteAddr string) string {
	if fwd := h.Get(HeaderForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if remoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
