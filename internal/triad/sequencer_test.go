package triad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(2000, 0)

// step is comfortably above the debounce window.
const step = 150 * time.Millisecond

// run feeds values step apart starting at start, returning every event.
func run(s *Sequencer, start time.Time, values ...float64) []Event {
	events := make([]Event, len(values))
	for i, v := range values {
		events[i] = s.Update(v, start.Add(time.Duration(i)*step))
	}
	return events
}

func TestThreePassSequenceUnlocks(t *testing.T) {
	s := NewSequencer(DefaultConfig())

	events := run(s, t0, 0.80, 0.86, 0.81, 0.87, 0.80, 0.88)
	want := []Event{
		EventNone,        // arms
		EventRisingEdge,  // pass 1
		EventFallingEdge, // re-arm
		EventRisingEdge,  // pass 2
		EventFallingEdge, // re-arm
		EventUnlock,      // pass 3 completes on this sample
	}
	assert.Equal(t, want, events)

	st := s.Status()
	assert.Equal(t, Unlocked, st.State)
	assert.True(t, st.IsUnlocked)
	assert.Equal(t, 3, st.CrossingCount)
}

func TestNoRetriggerWhileUnlocked(t *testing.T) {
	s := NewSequencer(DefaultConfig())
	run(s, t0, 0.80, 0.86, 0.81, 0.87, 0.80, 0.88)
	require.Equal(t, Unlocked, s.Status().State)

	events := run(s, t0.Add(time.Second), 0.88, 0.80, 0.88, 0.80, 0.88)
	for _, e := range events {
		assert.Equal(t, EventNone, e, "unlocked state must not emit further unlocks")
	}
	assert.Equal(t, Unlocked, s.Status().State)
}

func TestCrossingCountNeverExceedsPasses(t *testing.T) {
	s := NewSequencer(DefaultConfig())
	run(s, t0, 0.80, 0.86, 0.81, 0.87, 0.80, 0.88, 0.80, 0.88)
	assert.Equal(t, DefaultPassesRequired, s.Status().CrossingCount)
}

func TestIncompleteSequenceTimesOut(t *testing.T) {
	s := NewSequencer(DefaultConfig())
	run(s, t0, 0.80, 0.86) // one pass, then stall
	require.Equal(t, Crossing1, s.Status().State)

	ev := s.Update(0.84, t0.Add(11*time.Second))
	assert.Equal(t, EventTimeout, ev)
	assert.Equal(t, Idle, s.Status().State)
	assert.Zero(t, s.Status().CrossingCount)
	assert.False(t, s.Status().IsUnlocked)
}

func TestDebounceIgnoresFastEdges(t *testing.T) {
	s := NewSequencer(DefaultConfig())
	s.Update(0.80, t0) // arm
	ev := s.Update(0.86, t0.Add(step))
	require.Equal(t, EventRisingEdge, ev)

	// A bounce 10 ms later must not count as a falling edge.
	ev = s.Update(0.80, t0.Add(step+10*time.Millisecond))
	assert.Equal(t, EventNone, ev)
	// Nor the immediate re-rise as a second pass.
	ev = s.Update(0.86, t0.Add(step+20*time.Millisecond))
	assert.Equal(t, EventNone, ev)
	assert.Equal(t, 1, s.Status().CrossingCount)
}

func TestUnlockExpiresIntoLockoutThenIdle(t *testing.T) {
	s := NewSequencer(DefaultConfig())
	run(s, t0, 0.80, 0.86, 0.81, 0.87, 0.80, 0.88)
	require.True(t, s.Status().IsUnlocked)

	// Drop well below the low threshold: unlock ends, lockout begins.
	lockTime := t0.Add(2 * time.Second)
	ev := s.Update(0.70, lockTime)
	assert.Equal(t, EventNone, ev)
	assert.Equal(t, LockedOut, s.Status().State)

	// Still locked out inside the window.
	ev = s.Update(0.90, lockTime.Add(3*time.Second))
	assert.Equal(t, EventNone, ev)
	assert.Equal(t, LockedOut, s.Status().State)

	// Lockout expires.
	ev = s.Update(0.50, lockTime.Add(6*time.Second))
	assert.Equal(t, EventLockoutEnd, ev)
	assert.Equal(t, Idle, s.Status().State)
	assert.False(t, s.Status().IsUnlocked)
}

func TestSmallDipDoesNotEndUnlock(t *testing.T) {
	s := NewSequencer(DefaultConfig())
	run(s, t0, 0.80, 0.86, 0.81, 0.87, 0.80, 0.88)
	require.Equal(t, Unlocked, s.Status().State)

	// 0.73 is above low-threshold minus the exit margin (0.72).
	s.Update(0.73, t0.Add(2*time.Second))
	assert.Equal(t, Unlocked, s.Status().State)
}

func TestForceUnlockAndForceLock(t *testing.T) {
	s := NewSequencer(DefaultConfig())

	ev := s.ForceUnlock(t0)
	assert.Equal(t, EventUnlock, ev)
	st := s.Status()
	assert.Equal(t, Unlocked, st.State)
	assert.True(t, st.IsUnlocked)
	assert.Equal(t, DefaultPassesRequired, st.CrossingCount)
	assert.Equal(t, t0, st.UnlockedAt)

	s.ForceLock(t0.Add(time.Second))
	assert.Equal(t, LockedOut, s.Status().State)
	assert.False(t, s.Status().IsUnlocked)

	// Lockout measured from the forced lock, not the unlock.
	ev = s.Update(0.5, t0.Add(3*time.Second))
	assert.Equal(t, EventNone, ev)
	assert.Equal(t, LockedOut, s.Status().State)
	ev = s.Update(0.5, t0.Add(7*time.Second))
	assert.Equal(t, EventLockoutEnd, ev)
}

func TestReset(t *testing.T) {
	s := NewSequencer(DefaultConfig())
	run(s, t0, 0.80, 0.86, 0.81, 0.87)
	s.Reset(t0.Add(time.Second))

	st := s.Status()
	assert.Equal(t, Idle, st.State)
	assert.Zero(t, st.CrossingCount)
	assert.False(t, st.IsUnlocked)
	assert.Equal(t, EventNone, st.LastEvent)
}

func TestConfigSanitize(t *testing.T) {
	cfg := Config{
		HighThreshold:  1.5,
		LowThreshold:   2.0,
		PassesRequired: 0,
	}
	s := NewSequencer(cfg)
	got := s.Config()
	assert.Equal(t, 1.0, got.HighThreshold)
	assert.InDelta(t, 0.99, got.LowThreshold, 1e-12, "low forced strictly below high")
	assert.Equal(t, 1, got.PassesRequired)
	assert.Equal(t, DefaultSequenceTimeout, got.SequenceTimeout)
	assert.Equal(t, DefaultLockoutDuration, got.LockoutDuration)
}

func TestSinglePassConfigUnlocksOnFirstCrossing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PassesRequired = 1
	s := NewSequencer(cfg)

	events := run(s, t0, 0.80, 0.90)
	assert.Equal(t, []Event{EventNone, EventUnlock}, events)
}
