// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"math"
	"time"
)

// DefaultReconnectDelay is the fixed wait between a lost connection and the
// next dial attempt.
const DefaultReconnectDelay = 3000 * time.Millisecond

// ReconnectPolicy controls how long the supervisor waits before redialing.
type ReconnectPolicy struct {
	// Delay is the wait before the first retry.
	Delay time.Duration

	// Multiplier grows the delay per consecutive failure. Values below 1
	// are treated as 1 (fixed delay).
	Multiplier float64

	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration

	// MaxAttempts stops reconnecting after this many consecutive failures.
	// Zero means retry forever.
	MaxAttempts int
}

// DefaultReconnectPolicy retries every 3 seconds, forever.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Delay: DefaultReconnectDelay, Multiplier: 1.0}
}

// Next returns the delay before retry number attempt (1-based).
func (p ReconnectPolicy) Next(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return p.Delay
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(p.Delay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay > float64(math.MaxInt64) {
		delay = float64(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Exhausted reports whether failures consecutive failures use up the policy.
func (p ReconnectPolicy) Exhausted(failures int) bool {
	return p.MaxAttempts > 0 && failures >= p.MaxAttempts
}
