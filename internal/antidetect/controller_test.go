package antidetect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/clock/system"
)

func newTestController(cfg Config) *Controller {
	return New(cfg, nil, system.New(), zap.NewNop())
}

func TestRiskRisesOnBlocksAndDecaysOnSuccess(t *testing.T) {
	t.Parallel()

	c := newTestController(Config{WindowSize: 10})
	ctx := context.Background()

	require.Zero(t, c.Risk("src"))
	for i := 0; i < 5; i++ {
		c.Report(ctx, "src", OutcomeBlocked)
	}
	elevated := c.Risk("src")
	require.Greater(t, elevated, 0.4)

	for i := 0; i < 10; i++ {
		c.Report(ctx, "src", OutcomeSuccess)
	}
	require.Less(t, c.Risk("src"), elevated)
	require.Zero(t, c.Risk("src"), "a clean window drains all risk")
}

func TestDelayScalesWithRisk(t *testing.T) {
	t.Parallel()

	c := newTestController(Config{WindowSize: 10, MaxJitter: 0.0001, MaxBackoffMultiplier: 4})
	ctx := context.Background()
	base := time.Second

	calm := c.Delay("src", base)
	for i := 0; i < 10; i++ {
		c.Report(ctx, "src", OutcomeBlocked)
	}
	stressed := c.Delay("src", base)
	require.Greater(t, stressed, calm)
	require.LessOrEqual(t, stressed, 5*base, "multiplier is capped")
}

func TestIdentityRotatesOnScheduleAndRisk(t *testing.T) {
	t.Parallel()

	c := newTestController(Config{WindowSize: 10, RotateAfter: 3, RotationThreshold: 0.5})
	ctx := context.Background()

	first := c.Identity("src")
	require.NotEmpty(t, first.UserAgent)
	c.Identity("src")
	c.Identity("src")
	rotated := c.Identity("src")
	require.Equal(t, first.Epoch+1, rotated.Epoch, "schedule rotation after RotateAfter fetches")

	before := c.Snapshot("src").IdentityEpoch
	for i := 0; i < 10; i++ {
		c.Report(ctx, "src", OutcomeBlocked)
	}
	require.Greater(t, c.Snapshot("src").IdentityEpoch, before, "risk crossing rotates identity")
}

func TestCooldownEngagesAtCeiling(t *testing.T) {
	t.Parallel()

	c := newTestController(Config{WindowSize: 4, CooldownThreshold: 0.8, Cooldown: time.Minute})
	ctx := context.Background()

	_, resting := c.CooldownUntil("src")
	require.False(t, resting)

	for i := 0; i < 4; i++ {
		c.Report(ctx, "src", OutcomeBlocked)
	}
	until, resting := c.CooldownUntil("src")
	require.True(t, resting)
	require.True(t, until.After(time.Now()))

	snap := c.Snapshot("src")
	require.NotNil(t, snap.CooldownUntil)
	require.Equal(t, "src", snap.SourceID)
}

func TestSourcesAreIndependent(t *testing.T) {
	t.Parallel()

	c := newTestController(Config{WindowSize: 10})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		c.Report(ctx, "hot", OutcomeBlocked)
	}
	require.Greater(t, c.Risk("hot"), 0.9)
	require.Zero(t, c.Risk("cold"))
}
