package admission

import (
	"net/http"
	"strconv"
	"time"

	"github.com/manenim/admission-gate/pkg/limiter"
	"github.com/manenim/admission-gate/pkg/policy"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers is the rate-limit response metadata for one bucket check.
type Headers struct {
	Limit     int64
	Remaining int64
	// Reset is epoch seconds.
	Reset int64
	// RetryAfter is in seconds and only meaningful when Denied is set.
	RetryAfter int64
	Denied     bool
}

func newHeaders(p policy.Policy, res limiter.Decision, now time.Time) Headers {
	remaining := int64(res.Remaining)
	if remaining < 0 {
		remaining = 0
	}
	reset := ceilDiv(res.ResetTime.UnixMilli(), 1000)

	h := Headers{
		Limit:     p.Capacity,
		Remaining: remaining,
		Reset:     reset,
		Denied:    !res.Allow,
	}
	if h.Denied {
		h.RetryAfter = max(0, reset-now.Unix())
	}
	return h
}

// Write sets the headers on hdr. Retry-After is only written on denial.
func (h Headers) Write(hdr http.Header) {
	hdr.Set(HeaderLimit, strconv.FormatInt(h.Limit, 10))
	hdr.Set(HeaderRemaining, strconv.FormatInt(h.Remaining, 10))
	hdr.Set(HeaderReset, strconv.FormatInt(h.Reset, 10))
	if h.Denied {
		hdr.Set(HeaderRetryAfter, strconv.FormatInt(h.RetryAfter, 10))
	}
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b > 0 {
		q++
	}
	return q
}
