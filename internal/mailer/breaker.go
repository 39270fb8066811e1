// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mailer

import (
	"errors"
	"sync"
	"time"
)

// ErrRelayUnavailable is returned while a relay's breaker is open.
var ErrRelayUnavailable = errors.New("mailer: smtp relay temporarily disabled after repeated failures")

const (
	breakerClosed   = "closed"
	breakerOpen     = "open"
	breakerHalfOpen = "half-open"
)

// Breaker is a minimal circuit breaker with three states: closed, open, half-open.
// It opens after threshold consecutive failures and stays open for cooldown.
// After cooldown it lets a single trial through; success closes it, failure
// opens it again.
type Breaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	state     string
	openedAt  time.Time
	now       func() time.Time
}

// NewBreaker returns a closed breaker. now defaults to time.Now.
func NewBreaker(threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, state: breakerClosed, now: now}
}

// Call runs fn unless the breaker is open, recording the outcome.
func (b *Breaker) Call(fn func() error) (err error) {
	if b == nil {
		return fn()
	}

	b.mu.Lock()
	if b.state == breakerOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrRelayUnavailable
		}
		b.state = breakerHalfOpen
	}
	b.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			b.recordFailure()
			panic(r)
		}
	}()

	if err = fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = breakerClosed
}

// State returns closed, open or half-open.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakers holds one Breaker per relay key.
type breakers struct {
	mu        sync.Mutex
	m         map[string]*Breaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func (s *breakers) get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		b = NewBreaker(s.threshold, s.cooldown, s.now)
		s.m[key] = b
	}
	return b
}
