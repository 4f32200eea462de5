// Package antidetect tracks per-source risk of the harvester being
// identified as automated and decides pacing jitter, identity rotation,
// and cool-downs in response.
package antidetect

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/harvest"
	"github.com/quizforge/question-harvester/internal/telemetry"
)

// Outcome classifies the result of one fetch attempt for risk scoring.
type Outcome string

// Fetch outcomes reported by the crawl executor.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeError   Outcome = "error"
)

// Config tunes risk scoring and rotation.
type Config struct {
	// WindowSize is how many recent outcomes feed the risk score.
	WindowSize int
	// BlockWeight and ErrorWeight are the per-outcome risk contributions.
	BlockWeight float64
	ErrorWeight float64
	// RotationThreshold rotates the identity when risk crosses it.
	RotationThreshold float64
	// RotateAfter rotates the identity every N fetches regardless of risk.
	RotateAfter int
	// CooldownThreshold is the hard risk ceiling that pauses a source.
	CooldownThreshold float64
	// Cooldown is how long a source rests once the ceiling is hit.
	Cooldown time.Duration
	// MaxJitter is the ± fraction applied to delays for human-like timing.
	MaxJitter float64
	// MaxBackoffMultiplier caps the risk-driven delay multiplier.
	MaxBackoffMultiplier float64
}

func (c *Config) applyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.BlockWeight <= 0 {
		c.BlockWeight = 1.0
	}
	if c.ErrorWeight <= 0 {
		c.ErrorWeight = 0.5
	}
	if c.RotationThreshold <= 0 {
		c.RotationThreshold = 0.5
	}
	if c.RotateAfter <= 0 {
		c.RotateAfter = 50
	}
	if c.CooldownThreshold <= 0 {
		c.CooldownThreshold = 0.85
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.MaxJitter <= 0 {
		c.MaxJitter = 0.4
	}
	if c.MaxBackoffMultiplier < 1 {
		c.MaxBackoffMultiplier = 4.0
	}
}

type sourceRisk struct {
	window        []Outcome
	risk          float64
	epoch         int
	epochFetches  int
	cooldownUntil time.Time
}

// Controller owns anti-detection state for every source. It is shared by
// all jobs; callers never mutate SourceRiskState directly.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	sources map[string]*sourceRisk
	pool    []harvest.Identity
	store   harvest.RiskStore
	clock   harvest.Clock
	logger  *zap.Logger
	rng     *rand.Rand
}

// New creates a Controller. The store is optional; when present, risk
// snapshots are persisted after every report so operators can inspect them.
func New(cfg Config, store harvest.RiskStore, clock harvest.Clock, logger *zap.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		sources: make(map[string]*sourceRisk),
		pool:    defaultIdentityPool(),
		store:   store,
		clock:   clock,
		logger:  logger,
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Report records a fetch outcome, recomputes the source risk, and applies
// rotation or cool-down policy.
func (c *Controller) Report(ctx context.Context, sourceID string, outcome Outcome) {
	c.mu.Lock()
	state := c.stateLocked(sourceID)

	state.window = append(state.window, outcome)
	if len(state.window) > c.cfg.WindowSize {
		state.window = state.window[len(state.window)-c.cfg.WindowSize:]
	}
	state.risk = c.scoreLocked(state.window)

	if state.risk >= c.cfg.RotationThreshold {
		state.epoch++
		state.epochFetches = 0
	}
	if state.risk >= c.cfg.CooldownThreshold {
		state.cooldownUntil = c.clock.Now().Add(c.cfg.Cooldown)
		c.logger.Warn("source entering cool-down",
			zap.String("source", sourceID),
			zap.Float64("risk", state.risk),
			zap.Time("until", state.cooldownUntil),
		)
	}
	snapshot := c.snapshotLocked(sourceID, state)
	c.mu.Unlock()

	telemetry.SetSourceRisk(sourceID, snapshot.Risk)
	if c.store != nil {
		if err := c.store.UpsertRisk(ctx, snapshot); err != nil {
			c.logger.Warn("risk snapshot persist failed", zap.String("source", sourceID), zap.Error(err))
		}
	}
}

// Delay returns the pacing hint for the next fetch: base delay scaled by
// the risk-driven multiplier with human-timing jitter applied.
func (c *Controller) Delay(sourceID string, base time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateLocked(sourceID)

	multiplier := 1 + state.risk*(c.cfg.MaxBackoffMultiplier-1)
	jitter := 1 + (c.rng.Float64()-0.5)*c.cfg.MaxJitter
	return time.Duration(float64(base) * multiplier * jitter)
}

// Identity returns the presentation the driver should adopt for the next
// fetch, rotating on the configured schedule.
func (c *Controller) Identity(sourceID string) harvest.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateLocked(sourceID)

	state.epochFetches++
	if state.epochFetches > c.cfg.RotateAfter {
		state.epoch++
		state.epochFetches = 1
	}
	id := c.pool[state.epoch%len(c.pool)]
	id.Epoch = state.epoch
	return id
}

// CooldownUntil reports whether the source is resting and until when.
func (c *Controller) CooldownUntil(sourceID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateLocked(sourceID)
	if state.cooldownUntil.After(c.clock.Now()) {
		return state.cooldownUntil, true
	}
	return time.Time{}, false
}

// Snapshot returns the persisted view of a source's risk state.
func (c *Controller) Snapshot(sourceID string) harvest.SourceRiskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(sourceID, c.stateLocked(sourceID))
}

// Risk returns the current score in [0,1].
func (c *Controller) Risk(sourceID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(sourceID).risk
}

func (c *Controller) stateLocked(sourceID string) *sourceRisk {
	state, ok := c.sources[sourceID]
	if !ok {
		state = &sourceRisk{}
		c.sources[sourceID] = state
	}
	return state
}

func (c *Controller) scoreLocked(window []Outcome) float64 {
	if len(window) == 0 {
		return 0
	}
	var weight float64
	for _, o := range window {
		switch o {
		case OutcomeBlocked:
			weight += c.cfg.BlockWeight
		case OutcomeError:
			weight += c.cfg.ErrorWeight
		}
	}
	risk := weight / float64(c.cfg.WindowSize)
	if risk > 1 {
		risk = 1
	}
	return risk
}

func (c *Controller) snapshotLocked(sourceID string, state *sourceRisk) harvest.SourceRiskState {
	snap := harvest.SourceRiskState{
		SourceID:          sourceID,
		Risk:              state.risk,
		BackoffMultiplier: 1 + state.risk*(c.cfg.MaxBackoffMultiplier-1),
		IdentityEpoch:     state.epoch,
		UpdatedAt:         c.clock.Now(),
	}
	if state.cooldownUntil.After(c.clock.Now()) {
		until := state.cooldownUntil
		snap.CooldownUntil = &until
	}
	return snap
}
