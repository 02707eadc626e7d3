// Package job holds worker-side policies of the job engine: lease sizing and queue notifications.
package job

import (
	"errors"
	"time"
)

var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// MinLease is the shortest lease a claim or heartbeat may request.
const MinLease = time.Second

// LeasePolicy pairs the claim lease with the heartbeat cadence that keeps it alive. A nil
// policy reports zero for both.
type LeasePolicy struct {
	lease     time.Duration
	heartbeat time.Duration
}

// NewLeasePolicy raises a sub-second lease to MinLease. A heartbeat that is unset or would let
// the lease lapse between beats becomes a third of the lease.
func NewLeasePolicy(lease, heartbeat time.Duration) (*LeasePolicy, error) {
	if lease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	lease = max(lease, MinLease).Truncate(time.Millisecond)
	if heartbeat <= 0 || heartbeat >= lease {
		heartbeat = lease / 3
	}
	return &LeasePolicy{lease: lease, heartbeat: heartbeat}, nil
}

// Default is the lease granted on claim and renewed on every heartbeat.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.lease
}

func (p *LeasePolicy) HeartbeatInterval() time.Duration {
	if p == nil {
		return 0
	}
	return p.heartbeat
}
