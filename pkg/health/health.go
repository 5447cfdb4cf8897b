package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	// CheckTypeTCP dials a remote listener and checks the connection succeeds.
	CheckTypeTCP CheckType = "tcp"
	// CheckTypeHeartbeat judges health from the age of the last observed
	// heartbeat (Ping/Pong or WalAck) rather than an active probe.
	CheckTypeHeartbeat CheckType = "heartbeat"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}
