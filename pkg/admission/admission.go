// Package admission makes the per-request admit/deny decision against the
// shared token-bucket budget.
//
// Every request moves through identity resolution, the exemption check,
// policy resolution and one bucket update, and ends in one of three outcomes:
//
//   - OutcomeAdmit: the bucket paid for the request, or the identity is exempt
//   - OutcomeDeny: the bucket could not pay; the caller should answer 429
//   - OutcomeDegradedAdmit: the bucket update failed (store unreachable, timeout
//     or an unexpected panic) and the request is let through unmetered
//
// Rate limiting protects the backend; it must never be the reason traffic is
// rejected when its own dependencies fail.
package admission

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/manenim/admission-gate/pkg/audit"
	"github.com/manenim/admission-gate/pkg/identity"
	"github.com/manenim/admission-gate/pkg/limiter"
	"github.com/manenim/admission-gate/pkg/policy"
)

type Outcome int

const (
	OutcomeAdmit Outcome = iota
	OutcomeDeny
	OutcomeDegradedAdmit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmit:
		return "admit"
	case OutcomeDeny:
		return "deny"
	case OutcomeDegradedAdmit:
		return "degraded_admit"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const (
	DefaultAuditSampleRate = 0.1
	defaultAuditTimeout    = 2 * time.Second
)

// UnmatchedRoute is the metric label for paths that match neither a
// registered route nor a route policy.
const UnmatchedRoute = "unmatched"

// Request carries what the decision needs from an incoming request.
type Request struct {
	// Route keys the bucket and the route policy.
	Route         string
	// Pattern is the matched route template, if any. Metrics are labelled
	// with it so client-chosen paths cannot grow label cardinality.
	Pattern       string
	Header        http.Header
	RemoteAddr    string
	CorrelationID string
}

// Decision is the result of Check.
type Decision struct {
	Outcome  Outcome
	Identity identity.Identity
	Exempt   bool
	Policy   policy.Policy
	// Headers is nil unless a bucket check actually ran.
	Headers *Headers
	// Err is the cause of a degraded admission.
	Err error
}

// Admitted reports whether the request may proceed.
func (d Decision) Admitted() bool {
	return d.Outcome != OutcomeDeny
}

// Metrics receives one signal per decision.
type Metrics interface {
	Allowed(route, policyName string)
	Denied(route, policyName string)
	Degraded(route string)
	Exempt(route string)
}

// Policies supplies the current policy snapshot.
type Policies interface {
	Snapshot() *policy.Set
}

type nopMetrics struct{}

func (nopMetrics) Allowed(string, string) {}
func (nopMetrics) Denied(string, string)  {}
func (nopMetrics) Degraded(string)        {}
func (nopMetrics) Exempt(string)          {}

// Limiter is the admission orchestrator. It holds no per-key state; the
// shared store serializes concurrent updates of one bucket.
type Limiter struct {
	resolver *identity.Resolver
	policies Policies
	bucket   limiter.Bucket
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time

	sink         audit.Sink
	sampleRate   float64
	auditTimeout time.Duration
	random       func() float64
	audits       sync.WaitGroup
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithMetrics(m Metrics) Option {
	return func(l *Limiter) {
		if m != nil {
			l.metrics = m
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithAudit enables sampled audit writes of denials. rate is the sampled
// fraction in [0, 1].
func WithAudit(sink audit.Sink, rate float64) Option {
	return func(l *Limiter) {
		if sink != nil {
			l.sink = sink
			l.sampleRate = rate
		}
	}
}

// WithAuditTimeout bounds each audit write.
func WithAuditTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.auditTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRandom replaces the sampling source; it must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(l *Limiter) { l.random = random }
}

func New(resolver *identity.Resolver, policies Policies, bucket limiter.Bucket, opts ...Option) *Limiter {
	l := &Limiter{
		resolver:     resolver,
		policies:     policies,
		bucket:       bucket,
		metrics:      nopMetrics{},
		logger:       zap.NewNop(),
		now:          time.Now,
		sink:         audit.NopSink{},
		sampleRate:   DefaultAuditSampleRate,
		auditTimeout: defaultAuditTimeout,
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check decides whether req is admitted. It never fails: every error and
// panic on the decision path becomes OutcomeDegradedAdmit.
func (l *Limiter) Check(ctx context.Context, req Request) (dec Decision) {
	label := UnmatchedRoute
	defer func() {
		if r := recover(); r != nil {
			dec = l.degrade(req, label, dec.Identity, fmt.Errorf("admission: panic: %v", r))
		}
	}()

	id := l.resolver.Resolve(req.Header, req.RemoteAddr)
	dec.Identity = id

	set := l.policies.Snapshot()
	label = routeLabel(req, set)
	if set.Exempt(id.ID()) {
		l.metrics.Exempt(label)
		return Decision{Outcome: OutcomeAdmit, Identity: id, Exempt: true}
	}

	pol := set.Resolve(req.Route, id.Tier)
	dec.Policy = pol

	now := l.now()
	res, err := l.bucket.Apply(ctx, limiter.Key(req.Route, id.ID()), pol.Limit(), now)
	if err != nil {
		return l.degrade(req, label, id, err)
	}

	headers := newHeaders(pol, res, now)
	dec.Headers = &headers

	if res.Allow {
		l.metrics.Allowed(label, pol.Name)
		dec.Outcome = OutcomeAdmit
		return dec
	}

	l.metrics.Denied(label, pol.Name)
	l.maybeAudit(ctx, req, id, res, headers, now)
	dec.Outcome = OutcomeDeny
	return dec
}

func routeLabel(req Request, set *policy.Set) string {
	if req.Pattern != "" {
		return req.Pattern
	}
	if _, ok := set.Routes[req.Route]; ok {
		return req.Route
	}
	return UnmatchedRoute
}

func (l *Limiter) degrade(req Request, label string, id identity.Identity, err error) Decision {
	l.metrics.Degraded(label)
	l.logger.Warn("rate limiter degraded - allowing request",
		zap.String("route", req.Route),
		zap.String("identity", id.ID()),
		zap.String("correlation_id", req.CorrelationID),
		zap.Error(err),
	)
	return Decision{Outcome: OutcomeDegradedAdmit, Identity: id, Err: err}
}

func (l *Limiter) maybeAudit(ctx context.Context, req Request, id identity.Identity, res limiter.Decision, h Headers, now time.Time) {
	if l.sampleRate <= 0 || l.random() >= l.sampleRate {
		return
	}

	rec := audit.Record{
		TS:            now,
		Route:         req.Route,
		IdentityID:    id.ID(),
		Tier:          id.Tier,
		Remaining:     res.Remaining,
		ResetMs:       res.ResetTime.UnixMilli(),
		CorrelationID: req.CorrelationID,
		Headers:       audit.HeaderSnapshot{Limit: h.Limit, Remaining: h.Remaining, Reset: h.Reset},
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.auditTimeout)
	l.audits.Add(1)
	go func() {
		defer l.audits.Done()
		defer cancel()
		if err := l.sink.Write(auditCtx, rec); err != nil {
			l.logger.Debug("audit write failed", zap.String("identity", rec.IdentityID), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight audit writes finish.
func (l *Limiter) Wait() {
	l.audits.Wait()
}
