// Package backoff holds the capped exponential delay shared by the REST retry
// loop and the push channel's redial loop.
package backoff

import (
	"context"
	"time"
)

// Strategy doubles Base on every attempt after the first and never exceeds Max.
type Strategy struct {
	Base time.Duration
	Max  time.Duration
}

// WithDefaults fills zero fields from def.
func (s Strategy) WithDefaults(def Strategy) Strategy {
	if s.Base <= 0 {
		s.Base = def.Base
	}
	if s.Max <= 0 {
		s.Max = def.Max
	}
	if s.Max < s.Base {
		s.Max = s.Base
	}
	return s
}

// Delay returns the wait before the given attempt, counting from 1.
func (s Strategy) Delay(attempt int) time.Duration {
	delay := s.Base
	for i := 1; i < attempt && delay < s.Max; i++ {
		delay *= 2
	}
	if delay > s.Max {
		return s.Max
	}
	return delay
}

// Clamp caps a server supplied delay (such as Retry-After) at Max.
func (s Strategy) Clamp(delay time.Duration) time.Duration {
	if delay > s.Max {
		return s.Max
	}
	return delay
}

// Wait sleeps for delay or until ctx is done, whichever comes first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
