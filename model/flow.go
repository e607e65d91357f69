package model

import "time"

const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// BreakerState is a point-in-time view of the shared circuit breaker record.
// The record itself lives in Redis and is owned by every worker equally; this
// struct only carries snapshots out to callers and the stats API.
type BreakerState struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// LimiterState is a point-in-time view of the shared token bucket.
type LimiterState struct {
	Capacity   float64   `json:"capacity"`
	Rate       float64   `json:"rate"`
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}
