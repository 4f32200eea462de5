// Package ratelimit enforces per-source request pacing with exponential
// backoff on throttling and geometric decay back toward the base delay.
// Limiter.Wait is the only mechanism that paces fetches against a source;
// every job targeting the same source shares that source's state.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quizforge/question-harvester/internal/telemetry"
)

// Config holds limiter tuning knobs.
type Config struct {
	// DefaultDelay seeds sources that were registered without one.
	DefaultDelay time.Duration
	// MaxDelay caps exponential backoff.
	MaxDelay time.Duration
	// DecayFactor shrinks the delay toward base after each success (0,1).
	DecayFactor float64
	// ResetStreak is the successes in a row that snap the delay to base.
	ResetStreak int
}

func (c *Config) applyDefaults() {
	if c.DefaultDelay <= 0 {
		c.DefaultDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = 0.75
	}
	if c.ResetStreak <= 0 {
		c.ResetStreak = 5
	}
}

type sourceState struct {
	limiter *rate.Limiter
	base    time.Duration
	current time.Duration
	streak  int
}

// Limiter manages per-source pacing state.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	sources map[string]*sourceState
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	cfg.applyDefaults()
	return &Limiter{
		cfg:     cfg,
		sources: make(map[string]*sourceState),
	}
}

// Register seeds a source with its configured base delay. Registering an
// already-known source is a no-op so runtime state survives reconfiguration.
func (l *Limiter) Register(sourceID string, baseDelay time.Duration) {
	if baseDelay <= 0 {
		baseDelay = l.cfg.DefaultDelay
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sources[sourceID]; ok {
		return
	}
	l.sources[sourceID] = &sourceState{
		limiter: rate.NewLimiter(rate.Every(baseDelay), 1),
		base:    baseDelay,
		current: baseDelay,
	}
}

// Wait blocks until the source's current delay has elapsed since the last
// permitted fetch, or the context ends.
func (l *Limiter) Wait(ctx context.Context, sourceID string) error {
	state := l.state(sourceID)

	start := time.Now()
	if err := state.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", sourceID, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(sourceID, waited)
	}
	return nil
}

// ReportSuccess decays the delay toward base and tracks the success streak.
// A full streak resets the delay to base outright.
func (l *Limiter) ReportSuccess(sourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.stateLocked(sourceID)
	state.streak++
	next := time.Duration(float64(state.current) * l.cfg.DecayFactor)
	if next < state.base || state.streak >= l.cfg.ResetStreak {
		next = state.base
	}
	l.setDelayLocked(state, next)
}

// ReportThrottle doubles the delay in response to a rate-limited or blocked
// fetch, capped at MaxDelay, and breaks the success streak.
func (l *Limiter) ReportThrottle(sourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.stateLocked(sourceID)
	state.streak = 0
	next := state.current * 2
	if next > l.cfg.MaxDelay {
		next = l.cfg.MaxDelay
	}
	l.setDelayLocked(state, next)
}

// Delay reports the source's current pacing interval.
func (l *Limiter) Delay(sourceID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(sourceID).current
}

func (l *Limiter) state(sourceID string) *sourceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(sourceID)
}

func (l *Limiter) stateLocked(sourceID string) *sourceState {
	state, ok := l.sources[sourceID]
	if !ok {
		state = &sourceState{
			limiter: rate.NewLimiter(rate.Every(l.cfg.DefaultDelay), 1),
			base:    l.cfg.DefaultDelay,
			current: l.cfg.DefaultDelay,
		}
		l.sources[sourceID] = state
	}
	return state
}

func (l *Limiter) setDelayLocked(state *sourceState, next time.Duration) {
	if next == state.current {
		return
	}
	state.current = next
	state.limiter.SetLimit(rate.Every(next))
}
