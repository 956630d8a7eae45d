// Package kuramoto runs a small mean-field oscillator network disciplined
// toward a reference frequency. Each step applies Kuramoto coupling, an
// exponential relaxation toward the rotating equilibrium comb, and a PI
// phase-locked loop that trims every oscillator frequency by the same
// correction. The order parameter r measures how tightly the ensemble is
// bunched; 1-r is the dispersed remainder, so the two always sum to one.
package kuramoto

import (
	"math"
	"time"
)

// OscillatorCount is the fixed network size.
const OscillatorCount = 8

const (
	// DefaultCoupling is the stock mean-field coupling strength.
	DefaultCoupling = 0.3514
	// DefaultSyncThreshold is the order parameter above which the network
	// counts as synchronized.
	DefaultSyncThreshold = 0.9

	// DefaultCrossingHigh and DefaultCrossingLow bound the diagnostic
	// order-parameter crossing counter. The counter is observability only
	// and never drives an unlock.
	DefaultCrossingHigh = 0.85
	DefaultCrossingLow  = 0.82

	relaxationTime  = 2.0 // seconds
	pllKp           = 0.1
	pllKi           = 0.01
	integratorLimit = 1.0
	correctionGain  = 0.1
	lockTolerance   = 0.1 // radians

	// conservationTol bounds |r + (1-r) - 1| in the invariant check.
	conservationTol = 1e-9
)

// State is the oscillator network state.
type State struct {
	Phases          [OscillatorCount]float64
	Frequencies     [OscillatorCount]float64
	Coupling        float64
	OrderParam      float64
	CollectivePhase float64
	CrossingCount   int
}

// Status is an immutable snapshot of the synchronizer.
type Status struct {
	State
	ReferenceFreq float64
	PhaseError    float64
	PLLLocked     bool
	Synchronized  bool
	SyncDuration  time.Duration
	Modulation    float64
}

// Synchronizer integrates the network. Not safe for concurrent use. Time
// advances only through Step(dt), so runs are reproducible.
type Synchronizer struct {
	state  State
	status Status

	elapsed    float64 // integrated time, seconds
	modulation float64
	syncThresh float64

	crossingHigh  float64
	crossingLow   float64
	prevOrder     float64
	pllIntegrator float64

	syncStart float64
	inSync    bool
}

// NewSynchronizer builds a network around baseFreq (Hz). Oscillator
// frequencies are spread by 1 percent per index around the base, phases
// start uniformly distributed.
func NewSynchronizer(baseFreq float64) *Synchronizer {
	s := &Synchronizer{
		modulation:   1,
		syncThresh:   DefaultSyncThreshold,
		crossingHigh: DefaultCrossingHigh,
		crossingLow:  DefaultCrossingLow,
	}
	s.state.Coupling = DefaultCoupling
	s.status.ReferenceFreq = baseFreq
	for i := 0; i < OscillatorCount; i++ {
		s.state.Phases[i] = float64(i) * 2 * math.Pi / OscillatorCount
		s.state.Frequencies[i] = baseFreq * (1 + 0.01*float64(i-OscillatorCount/2))
	}
	return s
}

// Step advances the network by dt seconds. Non-positive dt is ignored.
func (s *Synchronizer) Step(dt float64) {
	if dt <= 0 {
		return
	}
	s.elapsed += dt

	s.applyCoupling(dt)
	s.applyRelaxation(dt)
	s.applyPLL(dt)

	s.state.OrderParam, s.state.CollectivePhase = meanField(&s.state.Phases)
	s.countCrossing()
	s.updateSync()
	s.prevOrder = s.state.OrderParam
}

// applyCoupling integrates the mean-field equation
// dθi/dt = ωi + (K/N) Σj sin(θj - θi), using the effective coupling after
// external modulation.
func (s *Synchronizer) applyCoupling(dt float64) {
	k := s.effectiveCoupling()
	var next [OscillatorCount]float64
	for i := 0; i < OscillatorCount; i++ {
		var sum float64
		for j := 0; j < OscillatorCount; j++ {
			sum += math.Sin(s.state.Phases[j] - s.state.Phases[i])
		}
		dtheta := s.state.Frequencies[i] + (k/OscillatorCount)*sum
		next[i] = wrapAngle(s.state.Phases[i] + dtheta*2*math.Pi*dt)
	}
	s.state.Phases = next
}

// applyRelaxation pulls each phase toward its slot in the comb rotating at
// the reference frequency, with time constant relaxationTime.
func (s *Synchronizer) applyRelaxation(dt float64) {
	gamma := 1.0 / relaxationTime
	equilibrium := wrapAngle(s.status.ReferenceFreq * 2 * math.Pi * s.elapsed)
	for i := 0; i < OscillatorCount; i++ {
		target := wrapAngle(equilibrium + float64(i)*2*math.Pi/OscillatorCount)
		diff := wrapSigned(target - s.state.Phases[i])
		s.state.Phases[i] = wrapAngle(s.state.Phases[i] + gamma*diff*dt)
	}
}

// applyPLL runs the PI controller on the collective phase error and applies
// a uniform frequency correction across the network.
func (s *Synchronizer) applyPLL(dt float64) {
	refPhase := wrapAngle(s.status.ReferenceFreq * 2 * math.Pi * s.elapsed)
	err := wrapSigned(refPhase - s.state.CollectivePhase)
	s.status.PhaseError = err

	proportional := pllKp * err
	s.pllIntegrator += pllKi * err * dt
	if s.pllIntegrator > integratorLimit {
		s.pllIntegrator = integratorLimit
	}
	if s.pllIntegrator < -integratorLimit {
		s.pllIntegrator = -integratorLimit
	}

	correction := proportional + s.pllIntegrator
	for i := range s.state.Frequencies {
		s.state.Frequencies[i] += correction * correctionGain
	}
	s.status.PLLLocked = math.Abs(err) < lockTolerance
}

// countCrossing tracks rising edges of the order parameter across the high
// threshold. Diagnostic only.
func (s *Synchronizer) countCrossing() {
	if s.prevOrder < s.crossingHigh && s.state.OrderParam >= s.crossingHigh {
		s.state.CrossingCount++
	}
}

// updateSync maintains the synchronized flag and its duration. The network
// counts as synchronized only while coherent and phase-locked.
func (s *Synchronizer) updateSync() {
	sync := s.state.OrderParam >= s.syncThresh && s.status.PLLLocked
	if sync && !s.inSync {
		s.syncStart = s.elapsed
	}
	s.inSync = sync
	s.status.Synchronized = sync
	if sync {
		s.status.SyncDuration = time.Duration((s.elapsed - s.syncStart) * float64(time.Second))
	} else {
		s.status.SyncDuration = 0
	}
}

// meanField returns the Kuramoto order parameter and collective phase:
// r·e^(iψ) = (1/N) Σj e^(iθj).
func meanField(phases *[OscillatorCount]float64) (r, psi float64) {
	var sumCos, sumSin float64
	for _, p := range phases {
		sumCos += math.Cos(p)
		sumSin += math.Sin(p)
	}
	r = math.Hypot(sumCos, sumSin) / OscillatorCount
	psi = math.Atan2(sumSin, sumCos)
	return r, psi
}

// OrderParameter returns the latest coherence r.
func (s *Synchronizer) OrderParameter() float64 { return s.state.OrderParam }

// Lambda returns the dispersed remainder 1-r.
func (s *Synchronizer) Lambda() float64 { return 1 - s.state.OrderParam }

// ConservationOK verifies r stays in [0,1] and r plus its remainder sums to
// one within tolerance.
func (s *Synchronizer) ConservationOK() bool {
	r := s.state.OrderParam
	if r < 0 || r > 1 {
		return false
	}
	return math.Abs(r+s.Lambda()-1) < conservationTol
}

// Status returns a copy of the full status.
func (s *Synchronizer) Status() Status {
	st := s.status
	st.State = s.state
	st.Modulation = s.modulation
	return st
}

// SetCoupling sets the base coupling, clamped to [0,1].
func (s *Synchronizer) SetCoupling(k float64) {
	if k < 0 {
		k = 0
	}
	if k > 1 {
		k = 1
	}
	s.state.Coupling = k
}

// SetModulation sets the multiplicative coupling modulation from the
// magnetic field, clamped to [0.5, 2].
func (s *Synchronizer) SetModulation(m float64) {
	if m < 0.5 {
		m = 0.5
	}
	if m > 2 {
		m = 2
	}
	s.modulation = m
}

func (s *Synchronizer) effectiveCoupling() float64 {
	k := s.state.Coupling * s.modulation
	if k > 1 {
		return 1
	}
	return k
}

// SetReferenceFrequency sets the PLL reference in Hz; values outside
// (0, 1000) are ignored.
func (s *Synchronizer) SetReferenceFrequency(freq float64) {
	if freq > 0 && freq < 1000 {
		s.status.ReferenceFreq = freq
	}
}

// ReferenceFreqForZ maps the field elevation z in [0,1] linearly onto
// [1, 10] Hz.
func ReferenceFreqForZ(z float64) float64 {
	return 1 + z*9
}

// TrackZ retunes the reference frequency from the field elevation.
func (s *Synchronizer) TrackZ(z float64) {
	s.SetReferenceFrequency(ReferenceFreqForZ(z))
}

// SetCrossingThresholds adjusts the diagnostic counter thresholds; the pair
// is ignored unless 0 <= low < high <= 1.
func (s *Synchronizer) SetCrossingThresholds(high, low float64) {
	if high > low && high <= 1 && low >= 0 {
		s.crossingHigh = high
		s.crossingLow = low
	}
}

// SetSyncThreshold sets the order parameter needed for sync, clamped to
// [0.5, 1].
func (s *Synchronizer) SetSyncThreshold(t float64) {
	if t < 0.5 {
		t = 0.5
	}
	if t > 1 {
		t = 1
	}
	s.syncThresh = t
}

// Reset restores the uniform phase distribution and the frequency spread
// around the current reference, and clears the PLL, counters and sync
// tracking. Coupling, modulation and reference frequency are kept.
func (s *Synchronizer) Reset() {
	for i := 0; i < OscillatorCount; i++ {
		s.state.Phases[i] = float64(i) * 2 * math.Pi / OscillatorCount
		s.state.Frequencies[i] = s.status.ReferenceFreq * (1 + 0.01*float64(i-OscillatorCount/2))
	}
	s.state.OrderParam = 0
	s.state.CollectivePhase = 0
	s.state.CrossingCount = 0
	s.prevOrder = 0
	s.pllIntegrator = 0
	s.elapsed = 0
	s.inSync = false
	s.status.PhaseError = 0
	s.status.PLLLocked = false
	s.status.Synchronized = false
	s.status.SyncDuration = 0
}

// wrapAngle maps an angle into [0, 2π).
func wrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// wrapSigned maps an angle difference into (-π, π].
func wrapSigned(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
