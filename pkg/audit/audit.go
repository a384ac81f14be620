// Package audit records sampled rate-limit denials.
//
// Writes are best effort: sinks may fail and callers ignore the error.
package audit

import (
	"context"
	"time"
)

// HeaderSnapshot is the rate-limit header set sent with the denial.
type HeaderSnapshot struct {
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Record describes one denied request.
type Record struct {
	TS            time.Time      `json:"ts"`
	Route         string         `json:"route"`
	IdentityID    string         `json:"identityId"`
	Tier          string         `json:"tier"`
	Remaining     float64        `json:"remaining"`
	ResetMs       int64          `json:"resetMs"`
	CorrelationID string         `json:"correlationId"`
	Headers       HeaderSnapshot `json:"headers"`
}

// Sink persists audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// NopSink drops every record.
type NopSink struct{}

func (NopSink) Write(context.Context, Record) error { return nil }
func (NopSink) Close() error                        { return nil }
