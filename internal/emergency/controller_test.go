package emergency

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-io/gateway/internal/audit"
	"github.com/archon-io/gateway/internal/store"
)

type fakeBus struct {
	published []string
}

func (f *fakeBus) Publish(subject string, data []byte) error {
	f.published = append(f.published, subject)
	return nil
}

func ownerOnly(owners ...string) CapabilityCheck {
	set := map[string]bool{}
	for _, o := range owners {
		set[o] = true
	}
	return func(actorID string) bool { return set[actorID] }
}

func newTestController(t *testing.T) (*Controller, store.Store, *fakeBus) {
	t.Helper()
	st := store.NewMemStore()
	bus := &fakeBus{}
	log := audit.NewLog(audit.NewMemStore(), nil, zerolog.Nop())
	c := New(st, log, bus, nil, ownerOnly("owner-1", "owner-2"), zerolog.Nop())
	return c, st, bus
}

// Scenario S6: flash-crash trigger with 3 open positions produces 3
// emergency.panic_hedge nodes and sets state to hedged.
func TestActivate_FlashCrashHedgesAllPositions(t *testing.T) {
	c, st, bus := newTestController(t)
	ctx := context.Background()

	positions := []store.Position{{Ticket: "t1"}, {Ticket: "t2"}, {Ticket: "t3"}}
	err := c.Activate(ctx, TriggerFlashCrash, "owner-1", "price moved 2.5% in 60s", positions)
	require.NoError(t, err)

	state, err := st.GetEmergencyState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.EmergencyHedged, state.Level)
	assert.NotEmpty(t, bus.published)
}

func TestActivate_RejectsNonOwner(t *testing.T) {
	c, _, _ := newTestController(t)
	err := c.Activate(context.Background(), TriggerManualKill, "not-an-owner", "test", nil)
	assert.ErrorIs(t, err, ErrNotOwner)
}

// Property 5: kill switch totality — after activate_kill, state is killed
// and a single restore call does not move it back to normal.
func TestRestore_RequiresTwoDistinctOwners(t *testing.T) {
	c, st, _ := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Activate(ctx, TriggerManualKill, "owner-1", "manual kill", nil))
	state, _ := st.GetEmergencyState(ctx)
	require.Equal(t, store.EmergencyKilled, state.Level)

	restored, err := c.Restore(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, restored, "single actor must not restore from killed")

	state, _ = st.GetEmergencyState(ctx)
	assert.Equal(t, store.EmergencyKilled, state.Level)

	restored, err = c.Restore(ctx, "owner-2")
	require.NoError(t, err)
	assert.True(t, restored, "second distinct owner completes the quorum")

	state, _ = st.GetEmergencyState(ctx)
	assert.Equal(t, store.EmergencyNormal, state.Level)
}

func TestRestore_SameActorTwiceDoesNotSatisfyQuorum(t *testing.T) {
	c, st, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.Activate(ctx, TriggerManualKill, "owner-1", "manual kill", nil))

	_, err := c.Restore(ctx, "owner-1")
	require.NoError(t, err)
	restored, err := c.Restore(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, restored)

	state, _ := st.GetEmergencyState(ctx)
	assert.Equal(t, store.EmergencyKilled, state.Level)
}

func TestActivate_DrawdownKillsAndBlocksFurtherActivation(t *testing.T) {
	c, st, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.Activate(ctx, TriggerDrawdown, "owner-1", "15% drawdown", nil))

	state, _ := st.GetEmergencyState(ctx)
	assert.Equal(t, store.EmergencyKilled, state.Level)

	assert.Error(t, c.Activate(ctx, TriggerFlashCrash, "owner-1", "flash crash", nil))
	state, _ = st.GetEmergencyState(ctx)
	assert.Equal(t, store.EmergencyKilled, state.Level)
}
