// Package policy holds the hierarchical rate-limit policy set and resolves the
// effective bucket policy for a route and tier.
package policy

import (
	"math"
	"time"

	"github.com/manenim/admission-gate/pkg/limiter"
)

const (
	defaultCost       = 1
	defaultTTLSeconds = 120

	// MaxCapacity is the largest capacity or cost a float64 holds exactly.
	MaxCapacity = 1 << 53
	// MaxTTLSeconds keeps TTLs well inside time.Duration.
	MaxTTLSeconds = math.MaxInt32
)

// Rule is a base policy: the global default or a route override.
type Rule struct {
	Capacity     float64 `json:"capacity" validate:"required,gt=0,lte=9007199254740992"`
	RefillPerSec float64 `json:"refillPerSec" validate:"required,gt=0"`
	Cost         float64 `json:"cost,omitempty" validate:"omitempty,gte=1,lte=9007199254740992,integral"`
	TTLSeconds   float64 `json:"ttlSeconds,omitempty" validate:"omitempty,gte=1,lte=2147483647,integral"`
}

// Tier scales whichever base rule applies.
type Tier struct {
	Multiplier float64 `json:"multiplier" validate:"required,gt=0"`
}

// Set is the full policy document shared by every instance.
type Set struct {
	Global     Rule            `json:"global"`
	Routes     map[string]Rule `json:"routes"`
	Tiers      map[string]Tier `json:"tiers"`
	Exemptions map[string]bool `json:"exemptions"`
}

// Policy is the effective policy for one request.
type Policy struct {
	Name         string
	Capacity     int64
	RefillPerSec float64
	Cost         int64
	TTLSeconds   int64
}

// Limit converts the policy into bucket parameters.
func (p Policy) Limit() limiter.Limit {
	return limiter.Limit{
		Capacity:     p.Capacity,
		RefillPerSec: p.RefillPerSec,
		Cost:         p.Cost,
		TTL:          time.Duration(p.TTLSeconds) * time.Second,
	}
}

// Resolve returns the effective policy for routeKey and tier.
//
// A route override replaces the global rule wholesale: fields missing from the
// override take the built-in defaults, not the global rule's values. The tier
// multiplier then scales capacity and refill of whichever rule applies.
// Resolution never fails.
func (s *Set) Resolve(routeKey, tier string) Policy {
	base, overridden := s.Routes[routeKey]
	if !overridden {
		base = s.Global
	}

	multiplier := 1.0
	if t, ok := s.Tiers[tier]; ok && t.Multiplier > 0 {
		multiplier = t.Multiplier
	}

	p := Policy{
		Name:         "global",
		Capacity:     scaledCapacity(base.Capacity * multiplier),
		RefillPerSec: base.RefillPerSec * multiplier,
		Cost:         defaultCost,
		TTLSeconds:   defaultTTLSeconds,
	}
	if overridden {
		p.Name = "route:" + routeKey
	}
	if base.Cost >= 1 {
		p.Cost = int64(base.Cost)
	}
	if base.TTLSeconds >= 1 {
		p.TTLSeconds = int64(base.TTLSeconds)
	}
	return p
}

// scaledCapacity floors c to a whole number of tokens, at least one and at
// most math.MaxInt64.
func scaledCapacity(c float64) int64 {
	if c >= math.MaxInt64 {
		return math.MaxInt64
	}
	return max(1, int64(math.Floor(c)))
}

// Exempt reports whether identityID bypasses rate limiting.
func (s *Set) Exempt(identityID string) bool {
	return s.Exemptions[identityID]
}

// Patch is a partial policy document. A nil field leaves the current value in
// place; a present field replaces it wholesale.
type Patch struct {
	Global     *Rule           `json:"global,omitempty" validate:"omitempty"`
	Routes     map[string]Rule `json:"routes,omitempty" validate:"omitempty,dive"`
	Tiers      map[string]Tier `json:"tiers,omitempty" validate:"omitempty,dive"`
	Exemptions map[string]bool `json:"exemptions,omitempty"`
}

// merge applies p shallowly over s and returns the result. s is not modified.
func (s *Set) merge(p Patch) *Set {
	next := *s
	if p.Global != nil {
		next.Global = *p.Global
	}
	if p.Routes != nil {
		next.Routes = p.Routes
	}
	if p.Tiers != nil {
		next.Tiers = p.Tiers
	}
	if p.Exemptions != nil {
		next.Exemptions = p.Exemptions
	}
	return &next
}

// Defaults returns a set containing only the given global rule.
func Defaults(global Rule) *Set {
	return &Set{
		Global:     global,
		Routes:     map[string]Rule{},
		Tiers:      map[string]Tier{},
		Exemptions: map[string]bool{},
	}
}
