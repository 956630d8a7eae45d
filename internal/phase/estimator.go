// Package phase classifies the field elevation z into three phases with
// hysteresis, maps it onto nine tiers, and tracks smoothed value, velocity
// and dwell stability.
package phase

import (
	"time"

	"github.com/hexgrid-labs/field_computer/internal/ring"
)

// Phase is the coarse field regime.
type Phase int

const (
	Low Phase = iota
	Mid
	High
)

func (p Phase) String() string {
	switch p {
	case Low:
		return "LOW"
	case Mid:
		return "MID"
	case High:
		return "HIGH"
	}
	return "UNKNOWN"
}

// Phase boundaries. BoundaryLow is the inverse golden ratio, BoundaryHigh is
// sqrt(3)/2, the hex lattice diagonal ratio.
const (
	BoundaryLow  = 0.6180339887498948482
	BoundaryHigh = 0.8660254037844386468
)

const (
	// DefaultHysteresis is the margin around a boundary a crossing must
	// clear before the phase changes.
	DefaultHysteresis = 0.02
	// DefaultAlpha is the EMA smoothing factor applied to z.
	DefaultAlpha = 0.1
	// DefaultStabilityWindow is how long a phase must persist before it
	// counts as stable.
	DefaultStabilityWindow = 500 * time.Millisecond
	// HistorySize bounds the sample history.
	HistorySize = 256
)

// tierBounds are the upper edges of tiers 1..8; anything above the last edge
// is tier 9.
var tierBounds = [8]float64{0.10, 0.20, 0.45, 0.65, 0.75, BoundaryHigh, 0.92, 0.97}

// Tier maps z onto tiers 1 through 9.
func Tier(z float64) int {
	for i, b := range tierBounds {
		if z < b {
			return i + 1
		}
	}
	return 9
}

// Classify returns the phase for z without hysteresis.
func Classify(z float64) Phase {
	switch {
	case z < BoundaryLow:
		return Low
	case z < BoundaryHigh:
		return Mid
	default:
		return High
	}
}

// Sample is one history entry.
type Sample struct {
	Z     float64
	Phase Phase
	Time  time.Time
}

// Transition records a phase change.
type Transition struct {
	From Phase
	To   Phase
	Z    float64 // smoothed z at the moment of the change
	Time time.Time
}

// State is an immutable snapshot of the estimator.
type State struct {
	Current       Phase
	Previous      Phase
	Z             float64
	ZSmoothed     float64
	ZVelocity     float64
	Tier          int
	Stable        bool
	PhaseDuration time.Duration
}

// Estimator tracks the phase of a z stream. Not safe for concurrent use.
// Time is supplied by the caller on every update.
type Estimator struct {
	state      State
	hysteresis float64
	alpha      float64
	stability  time.Duration

	zPrev     float64
	timePrev  time.Time
	hasPrev   bool
	changedAt time.Time

	lastTransition    Transition
	hasLastTransition bool

	history *ring.Buffer[Sample]
}

// NewEstimator returns an estimator starting in the Low phase at tier 1.
func NewEstimator() *Estimator {
	return &Estimator{
		state:      State{Current: Low, Previous: Low, Tier: 1},
		hysteresis: DefaultHysteresis,
		alpha:      DefaultAlpha,
		stability:  DefaultStabilityWindow,
		history:    ring.New[Sample](HistorySize),
	}
}

// Update feeds one z sample taken at now. It returns the transition and true
// when the phase changed on this sample.
func (e *Estimator) Update(z float64, now time.Time) (Transition, bool) {
	e.state.Z = z
	e.state.ZSmoothed = e.alpha*z + (1-e.alpha)*e.state.ZSmoothed

	if e.hasPrev {
		if dt := now.Sub(e.timePrev).Seconds(); dt > 0.001 {
			e.state.ZVelocity = (z - e.zPrev) / dt
		}
	} else {
		e.changedAt = now
	}

	detected := e.detect(e.state.ZSmoothed)

	changed := false
	if detected != e.state.Current {
		e.lastTransition = Transition{
			From: e.state.Current,
			To:   detected,
			Z:    e.state.ZSmoothed,
			Time: now,
		}
		e.hasLastTransition = true
		e.state.Previous = e.state.Current
		e.state.Current = detected
		e.changedAt = now
		e.state.PhaseDuration = 0
		changed = true
	} else {
		e.state.PhaseDuration = now.Sub(e.changedAt)
	}

	e.state.Stable = e.state.PhaseDuration >= e.stability
	e.state.Tier = Tier(e.state.ZSmoothed)

	e.history.Push(Sample{Z: z, Phase: e.state.Current, Time: now})

	e.zPrev = z
	e.timePrev = now
	e.hasPrev = true

	return e.lastTransition, changed
}

// detect applies hysteresis relative to the current phase: a crossing only
// counts once it clears the boundary by the margin.
func (e *Estimator) detect(z float64) Phase {
	switch e.state.Current {
	case Low:
		if z >= BoundaryLow+e.hysteresis {
			return Mid
		}
	case Mid:
		if z < BoundaryLow-e.hysteresis {
			return Low
		}
		if z >= BoundaryHigh+e.hysteresis {
			return High
		}
	case High:
		if z < BoundaryHigh-e.hysteresis {
			return Mid
		}
	}
	return e.state.Current
}

// State returns a copy of the current state.
func (e *Estimator) State() State { return e.state }

// LastTransition returns the most recent phase change, if any occurred.
func (e *Estimator) LastTransition() (Transition, bool) {
	return e.lastTransition, e.hasLastTransition
}

// History returns the retained samples, oldest first.
func (e *Estimator) History() []Sample { return e.history.Snapshot() }

// SetAlpha sets the EMA smoothing factor, clamped to [0.01, 1].
func (e *Estimator) SetAlpha(alpha float64) {
	if alpha < 0.01 {
		alpha = 0.01
	}
	if alpha > 1 {
		alpha = 1
	}
	e.alpha = alpha
}

// SetHysteresis sets the boundary margin, clamped to [0, 0.1].
func (e *Estimator) SetHysteresis(h float64) {
	if h < 0 {
		h = 0
	}
	if h > 0.1 {
		h = 0.1
	}
	e.hysteresis = h
}

// SetStabilityWindow sets the dwell required for Stable; negative values are
// ignored.
func (e *Estimator) SetStabilityWindow(d time.Duration) {
	if d < 0 {
		return
	}
	e.stability = d
}

// Reset returns the estimator to the Low phase and clears history and
// smoothing state. Configured parameters are kept.
func (e *Estimator) Reset() {
	e.state = State{Current: Low, Previous: Low, Tier: 1}
	e.zPrev = 0
	e.hasPrev = false
	e.hasLastTransition = false
	e.lastTransition = Transition{}
	e.history.Clear()
}
