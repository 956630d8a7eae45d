package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/magref"
	"github.com/hexgrid-labs/field_computer/internal/phase"
	"github.com/hexgrid-labs/field_computer/internal/triad"
)

var t0 = time.Unix(1000, 0)

const testBaseline = 500

type funcSource func() (hexgrid.RawFrame, error)

func (f funcSource) ReadFrame() (hexgrid.RawFrame, error) { return f() }

type funcMag func() (magref.RawSample, error)

func (f funcMag) ReadSample() (magref.RawSample, error) { return f() }

func flatBaselines() hexgrid.RawFrame {
	var b hexgrid.RawFrame
	for i := range b {
		b[i] = testBaseline
	}
	return b
}

// rawWithActive returns a frame with the first n channels pressed hard.
func rawWithActive(n int) hexgrid.RawFrame {
	raw := flatBaselines()
	for i := 0; i < n && i < hexgrid.ChannelCount; i++ {
		raw[i] = testBaseline - 100
	}
	return raw
}

func newTestCore(opts Options, src FrameSource, mag MagSource) *Core {
	c := New(opts, src, mag)
	c.SetBaselines(flatBaselines())
	return c
}

func TestSensorTaskGatedByInterval(t *testing.T) {
	reads := 0
	src := funcSource(func() (hexgrid.RawFrame, error) {
		reads++
		return rawWithActive(3), nil
	})
	c := newTestCore(DefaultOptions(), src, nil)

	c.Tick(t0)
	c.Tick(t0.Add(time.Millisecond))
	c.Tick(t0.Add(5 * time.Millisecond))
	assert.Equal(t, 1, reads, "sensor task must not re-run inside its interval")

	c.Tick(t0.Add(10 * time.Millisecond))
	assert.Equal(t, 2, reads)
}

func TestDeterminism(t *testing.T) {
	run := func() (hexgrid.Frame, phase.State, float64) {
		step := 0
		src := funcSource(func() (hexgrid.RawFrame, error) {
			step++
			return rawWithActive(step % hexgrid.ChannelCount), nil
		})
		c := newTestCore(DefaultOptions(), src, nil)
		for i := 0; i < 300; i++ {
			c.Tick(t0.Add(time.Duration(i) * 10 * time.Millisecond))
		}
		return c.Frame(), c.Phase(), c.Network().OrderParam
	}

	f1, p1, r1 := run()
	f2, p2, r2 := run()
	assert.Equal(t, f1, f2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, r1, r2)
}

func TestTriadUnlockThroughCoherence(t *testing.T) {
	// A steady pattern drives the windowed coherence to 1; alternating
	// between two patterns collapses it. Three clean excursions above the
	// high threshold complete the unlock sequence.
	opts := DefaultOptions()
	opts.FormationWindow = 4

	steady := rawWithActive(6)
	jitter := rawWithActive(17)

	step := 0
	src := funcSource(func() (hexgrid.RawFrame, error) {
		step++
		// Two alternating segments carve the dips between the three
		// excursions; after the third rise the pattern stays steady.
		seg := step / 20
		if (seg == 1 || seg == 3) && step%2 == 0 {
			return jitter, nil
		}
		return steady, nil
	})
	c := newTestCore(opts, src, nil)

	unlocks := 0
	c.OnUnlock(func(ev Event) {
		unlocks++
		assert.Equal(t, EventTriadUnlock, ev.Kind)
		assert.True(t, ev.Triad.IsUnlocked)
	})

	var kinds []EventKind
	for i := 0; i < 150; i++ {
		c.Tick(t0.Add(time.Duration(i) * 10 * time.Millisecond))
		for _, ev := range c.DrainEvents() {
			kinds = append(kinds, ev.Kind)
		}
	}

	assert.Contains(t, kinds, EventTriadRising)
	assert.Contains(t, kinds, EventTriadFalling)
	assert.Contains(t, kinds, EventTriadUnlock)
	assert.Equal(t, 1, unlocks)
	assert.True(t, c.Triad().IsUnlocked)
	assert.Equal(t, triad.Unlocked, c.Triad().State)
}

func TestSensorFaultHoldsLastFrame(t *testing.T) {
	fail := false
	src := funcSource(func() (hexgrid.RawFrame, error) {
		if fail {
			return hexgrid.RawFrame{}, errors.New("bus timeout")
		}
		return rawWithActive(5), nil
	})
	c := newTestCore(DefaultOptions(), src, nil)

	c.Tick(t0)
	good := c.Frame()
	require.Equal(t, 5, good.ActiveCount)

	fail = true
	c.Tick(t0.Add(10 * time.Millisecond))
	assert.Equal(t, good, c.Frame(), "failed read must hold the last good frame")

	h := c.Health(t0.Add(10 * time.Millisecond))
	assert.True(t, h.Initialized)
	assert.True(t, h.Fresh, "still inside the freshness window")

	h = c.Health(t0.Add(2 * time.Second))
	assert.True(t, h.Initialized)
	assert.False(t, h.Fresh, "stale after the freshness window")
}

func TestHealthNeverInitialized(t *testing.T) {
	src := funcSource(func() (hexgrid.RawFrame, error) {
		return hexgrid.RawFrame{}, errors.New("no ack")
	})
	c := newTestCore(DefaultOptions(), src, nil)
	c.Tick(t0)

	h := c.Health(t0)
	assert.False(t, h.Initialized)
	assert.False(t, h.Fresh)
}

func TestEmergencyStopLatchesAndGates(t *testing.T) {
	reads := 0
	src := funcSource(func() (hexgrid.RawFrame, error) {
		reads++
		return rawWithActive(3), nil
	})
	opts := DefaultOptions()
	opts.MaxConservationViolations = 3
	c := newTestCore(opts, src, nil)
	c.Tick(t0)

	c.noteViolation(t0)
	c.noteViolation(t0)
	assert.False(t, c.EmergencyStopped(), "below the threshold")
	c.noteViolation(t0)
	assert.True(t, c.EmergencyStopped())

	evs := c.DrainEvents()
	require.NotEmpty(t, evs)
	assert.Equal(t, EventEmergencyStop, evs[len(evs)-1].Kind)

	readsBefore := reads
	c.Tick(t0.Add(time.Second))
	assert.Equal(t, readsBefore, reads, "ticks are gated while stopped")

	c.ForceUnlock(t0.Add(time.Second))
	assert.False(t, c.Triad().IsUnlocked, "mutation is gated while stopped")

	c.Reset(t0.Add(2 * time.Second))
	assert.False(t, c.EmergencyStopped())
	h := c.Health(t0.Add(2 * time.Second))
	assert.Zero(t, h.Violations)

	c.Tick(t0.Add(3 * time.Second))
	assert.Equal(t, readsBefore+1, reads, "ticks resume after reset")
}

func TestViolationCounterClearsOnCleanPass(t *testing.T) {
	src := funcSource(func() (hexgrid.RawFrame, error) {
		return rawWithActive(1), nil
	})
	c := newTestCore(DefaultOptions(), src, nil)

	c.noteViolation(t0)
	c.noteViolation(t0)
	assert.Equal(t, 2, c.Health(t0).Violations)

	// A clean housekeeping pass resets the consecutive count.
	c.Tick(t0)
	c.Tick(t0.Add(time.Second))
	assert.Zero(t, c.Health(t0.Add(time.Second)).Violations)
	assert.False(t, c.EmergencyStopped())
}

func TestEventQueueBounded(t *testing.T) {
	src := funcSource(func() (hexgrid.RawFrame, error) {
		return rawWithActive(1), nil
	})
	opts := DefaultOptions()
	opts.EventQueueSize = 4
	c := newTestCore(opts, src, nil)

	for i := 0; i < 10; i++ {
		c.push(Event{Kind: EventPhaseTransition, Time: t0.Add(time.Duration(i) * time.Second)})
	}
	evs := c.DrainEvents()
	require.Len(t, evs, 4)
	// Oldest entries were dropped; the survivors are the newest four.
	assert.Equal(t, t0.Add(6*time.Second), evs[0].Time)
	assert.Equal(t, t0.Add(9*time.Second), evs[3].Time)
}

func TestForceUnlockNotifiesSubscriber(t *testing.T) {
	src := funcSource(func() (hexgrid.RawFrame, error) {
		return rawWithActive(1), nil
	})
	c := newTestCore(DefaultOptions(), src, nil)

	var got *Event
	c.OnUnlock(func(ev Event) { got = &ev })

	c.ForceUnlock(t0)
	require.NotNil(t, got)
	assert.Equal(t, EventTriadUnlock, got.Kind)
	assert.True(t, c.Triad().IsUnlocked)
}

func TestOscillatorCatchUpCapped(t *testing.T) {
	src := funcSource(func() (hexgrid.RawFrame, error) {
		return rawWithActive(1), nil
	})
	c := newTestCore(DefaultOptions(), src, nil)

	c.Tick(t0)
	// A 10 second stall may not wedge the tick in a step storm.
	c.Tick(t0.Add(10 * time.Second))
	assert.Equal(t, t0.Add(10*time.Second), c.lastOsc, "stamp jumps to now after a capped catch-up")
}

func TestUpdateRateOverHousekeepingWindow(t *testing.T) {
	fail := false
	src := funcSource(func() (hexgrid.RawFrame, error) {
		if fail {
			return hexgrid.RawFrame{}, errors.New("bus timeout")
		}
		return rawWithActive(2), nil
	})
	c := newTestCore(DefaultOptions(), src, nil)

	assert.Zero(t, c.Health(t0).UpdateRateHz, "no rate before the first full window")

	// Ticking every 10 ms fuses 100 frames across the 1 s window.
	for i := 0; i <= 100; i++ {
		c.Tick(t0.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	assert.InDelta(t, 100.0, c.Health(t0.Add(time.Second)).UpdateRateHz, 0.5)

	// Failed reads do not count as fused frames.
	fail = true
	for i := 101; i <= 200; i++ {
		c.Tick(t0.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	assert.Zero(t, c.Health(t0.Add(2*time.Second)).UpdateRateHz)

	c.Reset(t0.Add(3 * time.Second))
	assert.Zero(t, c.Health(t0.Add(3*time.Second)).UpdateRateHz)
}

func TestMagBlendAndModulation(t *testing.T) {
	src := funcSource(func() (hexgrid.RawFrame, error) {
		// A press on the center and one inner-ring pad keeps the
		// centroid near the middle, where the reference has weight.
		raw := flatBaselines()
		raw[5] = testBaseline - 100
		raw[hexgrid.Center] = testBaseline - 100
		return raw, nil
	})
	// Roughly 50 uT pointing along +X at the default gain.
	mag := funcMag(func() (magref.RawSample, error) {
		return magref.RawSample{X: 545, Y: 0, Z: 100}, nil
	})

	withMag := newTestCore(DefaultOptions(), src, mag)
	withMag.Tick(t0)
	without := newTestCore(DefaultOptions(), src, nil)
	without.Tick(t0)

	assert.True(t, withMag.Health(t0).MagHealthy)
	assert.False(t, without.Health(t0).MagHealthy)
	assert.NotEqual(t, without.Frame().Theta, withMag.Frame().Theta,
		"a healthy reference pulls the frame theta")
	assert.InDelta(t, 1.0, withMag.Network().Modulation, 0.05,
		"a nominal field leaves the coupling nearly untouched")
}

func TestResetRestartsModulesKeepsBaselines(t *testing.T) {
	src := funcSource(func() (hexgrid.RawFrame, error) {
		return rawWithActive(7), nil
	})
	c := newTestCore(DefaultOptions(), src, nil)
	for i := 0; i < 50; i++ {
		c.Tick(t0.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	require.True(t, c.Health(t0.Add(500*time.Millisecond)).Initialized)

	c.Reset(t0.Add(time.Second))
	assert.False(t, c.Health(t0.Add(time.Second)).Initialized)
	assert.Empty(t, c.DrainEvents())
	assert.Equal(t, triad.Idle, c.Triad().State)

	// Baselines survive: the first frame after reset still fuses hot
	// channels instead of reading everything as zero delta.
	c.Tick(t0.Add(2 * time.Second))
	assert.Equal(t, 7, c.Frame().ActiveCount)
}
