package policy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/manenim/admission-gate/pkg/limiter"
)

func testSet() *Set {
	return &Set{
		Global: Rule{Capacity: 100, RefillPerSec: 100.0 / 60, Cost: 1, TTLSeconds: 120},
		Routes: map[string]Rule{
			"/api/heavy": {Capacity: 20, RefillPerSec: 10},
			"/api/batch": {Capacity: 10, RefillPerSec: 1, Cost: 5, TTLSeconds: 600},
		},
		Tiers: map[string]Tier{
			"premium": {Multiplier: 2},
			"trial":   {Multiplier: 0.001},
		},
		Exemptions: map[string]bool{"apiKey:internal": true, "user:blocked": false},
	}
}

func TestSet_Resolve(t *testing.T) {
	set := testSet()

	tests := []struct {
		name  string
		route string
		tier  string
		want  Policy
	}{
		{
			name:  "global default",
			route: "/api/hello",
			tier:  "standard",
			want:  Policy{Name: "global", Capacity: 100, RefillPerSec: 100.0 / 60, Cost: 1, TTLSeconds: 120},
		},
		{
			name:  "route override scaled by tier",
			route: "/api/heavy",
			tier:  "premium",
			want:  Policy{Name: "route:/api/heavy", Capacity: 40, RefillPerSec: 20, Cost: 1, TTLSeconds: 120},
		},
		{
			name:  "override fields fall back to built-in defaults",
			route: "/api/heavy",
			tier:  "anonymous",
			want:  Policy{Name: "route:/api/heavy", Capacity: 20, RefillPerSec: 10, Cost: 1, TTLSeconds: 120},
		},
		{
			name:  "override cost and ttl",
			route: "/api/batch",
			tier:  "",
			want:  Policy{Name: "route:/api/batch", Capacity: 10, RefillPerSec: 1, Cost: 5, TTLSeconds: 600},
		},
		{
			name:  "capacity never drops below one",
			route: "/api/hello",
			tier:  "trial",
			want:  Policy{Name: "global", Capacity: 1, RefillPerSec: 100.0 / 60 * 0.001, Cost: 1, TTLSeconds: 120},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := set.Resolve(tt.route, tt.tier)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Capacity, got.Capacity)
			assert.InDelta(t, tt.want.RefillPerSec, got.RefillPerSec, 1e-12)
			assert.Equal(t, tt.want.Cost, got.Cost)
			assert.Equal(t, tt.want.TTLSeconds, got.TTLSeconds)
		})
	}
}

func TestSet_ResolveWithEmptyMaps(t *testing.T) {
	set := &Set{Global: Rule{Capacity: 5, RefillPerSec: 1}}

	got := set.Resolve("/anything", "whatever")
	assert.Equal(t, Policy{Name: "global", Capacity: 5, RefillPerSec: 1, Cost: 1, TTLSeconds: 120}, got)
	assert.False(t, set.Exempt("ip:1.1.1.1"))
}

func TestSet_Exempt(t *testing.T) {
	set := testSet()
	assert.True(t, set.Exempt("apiKey:internal"))
	assert.False(t, set.Exempt("user:blocked"))
	assert.False(t, set.Exempt("ip:127.0.0.1"))
}

func TestPolicy_Limit(t *testing.T) {
	p := Policy{Capacity: 40, RefillPerSec: 20, Cost: 2, TTLSeconds: 90}
	assert.Equal(t, limiter.Limit{Capacity: 40, RefillPerSec: 20, Cost: 2, TTL: 90 * time.Second}, p.Limit())
}

func TestSet_ResolveSaturatesScaledCapacity(t *testing.T) {
	set := Defaults(Rule{Capacity: MaxCapacity, RefillPerSec: 1})
	set.Tiers["whale"] = Tier{Multiplier: 1e6}

	assert.Equal(t, int64(MaxCapacity), set.Resolve("/x", "standard").Capacity)
	assert.Equal(t, int64(math.MaxInt64), set.Resolve("/x", "whale").Capacity)

	set.Global.Capacity = 0.4
	assert.Equal(t, int64(1), set.Resolve("/x", "standard").Capacity)
}
