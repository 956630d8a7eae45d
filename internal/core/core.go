// Package core runs the single-threaded field engine: one fusion pipeline,
// one phase estimator, one unlock sequencer, one oscillator network and one
// formation detector, advanced together by interval-gated ticks.
package core

import (
	"log"
	"time"

	"github.com/hexgrid-labs/field_computer/internal/formation"
	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/kuramoto"
	"github.com/hexgrid-labs/field_computer/internal/magref"
	"github.com/hexgrid-labs/field_computer/internal/phase"
	"github.com/hexgrid-labs/field_computer/internal/ring"
	"github.com/hexgrid-labs/field_computer/internal/triad"
)

// FrameSource delivers raw grid frames. Hardware and synthetic sources both
// satisfy it, so the engine runs the same with either.
type FrameSource interface {
	ReadFrame() (hexgrid.RawFrame, error)
}

// MagSource delivers raw magnetometer samples.
type MagSource interface {
	ReadSample() (magref.RawSample, error)
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventPhaseTransition EventKind = iota
	EventTriadRising
	EventTriadFalling
	EventTriadUnlock
	EventTriadTimeout
	EventTriadLockoutEnd
	EventFormationStart
	EventEmergencyStop
)

func (k EventKind) String() string {
	switch k {
	case EventPhaseTransition:
		return "PHASE_TRANSITION"
	case EventTriadRising:
		return "TRIAD_RISING"
	case EventTriadFalling:
		return "TRIAD_FALLING"
	case EventTriadUnlock:
		return "TRIAD_UNLOCK"
	case EventTriadTimeout:
		return "TRIAD_TIMEOUT"
	case EventTriadLockoutEnd:
		return "TRIAD_LOCKOUT_END"
	case EventFormationStart:
		return "FORMATION_START"
	case EventEmergencyStop:
		return "EMERGENCY_STOP"
	}
	return "UNKNOWN"
}

// Event is one notable state change, queued during a tick and drained by
// the caller afterwards.
type Event struct {
	Kind       EventKind
	Time       time.Time
	Z          float64
	Transition phase.Transition  // set for phase events
	Triad      triad.Status      // set for triad events
	Formation  formation.Metrics // set for formation events
}

// Health reports the sensing side of the engine.
type Health struct {
	Initialized   bool // at least one frame fused since start or reset
	Fresh         bool // last good frame inside the freshness window
	LastFrameTime time.Time
	MagHealthy    bool
	Violations    int // consecutive conservation failures
	EmergencyStop bool
	UpdateRateHz  float64 // fused frames per second over the last housekeeping window
}

const defaultFreshness = time.Second

// Options configures a new engine. Zero durations and counts fall back to
// the defaults below.
type Options struct {
	ActivityThreshold float64

	PhaseAlpha      float64
	PhaseHysteresis float64
	PhaseStability  time.Duration

	Triad triad.Config

	OscBaseFreq   float64
	OscCoupling   float64
	SyncThreshold float64

	FormationKappa  float64
	FormationEta    float64
	FormationR      int
	FormationWindow int
	FormationSigma  float64

	MagDeclinationDeg float64

	SensorInterval       time.Duration
	OscillatorInterval   time.Duration
	HousekeepingInterval time.Duration
	Freshness            time.Duration

	MaxConservationViolations int
	EventQueueSize            int
}

// DefaultOptions returns the stock engine configuration.
func DefaultOptions() Options {
	return Options{
		ActivityThreshold:         hexgrid.DefaultActivityThreshold,
		PhaseAlpha:                0.1,
		PhaseHysteresis:           0.02,
		PhaseStability:            500 * time.Millisecond,
		Triad:                     triad.DefaultConfig(),
		OscBaseFreq:               1.0,
		OscCoupling:               kuramoto.DefaultCoupling,
		SyncThreshold:             kuramoto.DefaultSyncThreshold,
		FormationKappa:            formation.DefaultKappaThreshold,
		FormationEta:              formation.DefaultEtaThreshold,
		FormationR:                formation.DefaultResonanceThreshold,
		FormationWindow:           formation.DefaultWindow,
		FormationSigma:            formation.DefaultSigma,
		SensorInterval:            10 * time.Millisecond,
		OscillatorInterval:        time.Millisecond,
		HousekeepingInterval:      time.Second,
		Freshness:                 defaultFreshness,
		MaxConservationViolations: 10,
		EventQueueSize:            64,
	}
}

// Core owns the module instances and advances them. Not safe for concurrent
// use; everything happens on the goroutine calling Tick.
type Core struct {
	opts Options

	fusion    *hexgrid.Fusion
	estimator *phase.Estimator
	sequencer *triad.Sequencer
	network   *kuramoto.Synchronizer
	detector  *formation.Detector
	mag       *magref.Reference

	source    FrameSource
	magSource MagSource

	events      *ring.Buffer[Event]
	onUnlock    func(Event)
	onFormation func(Event)
	pending     []Event

	lastSensor  time.Time
	lastOsc     time.Time
	lastHousekp time.Time

	frame     hexgrid.Frame
	haveFrame bool
	lastGood  time.Time
	coherence float64

	fused      int // frames fused since the last rate mark
	rateMark   time.Time
	updateRate float64

	violations int
	estopped   bool
}

// New builds an engine over the given sources. magSource may be nil when no
// magnetometer is fitted.
func New(opts Options, source FrameSource, magSource MagSource) *Core {
	if opts.SensorInterval <= 0 {
		opts.SensorInterval = 10 * time.Millisecond
	}
	if opts.OscillatorInterval <= 0 {
		opts.OscillatorInterval = time.Millisecond
	}
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = time.Second
	}
	if opts.Freshness <= 0 {
		opts.Freshness = defaultFreshness
	}
	if opts.MaxConservationViolations <= 0 {
		opts.MaxConservationViolations = 10
	}
	if opts.EventQueueSize <= 0 {
		opts.EventQueueSize = 64
	}
	if opts.OscBaseFreq <= 0 {
		opts.OscBaseFreq = 1.0
	}

	c := &Core{
		opts:      opts,
		fusion:    hexgrid.NewFusion(),
		estimator: phase.NewEstimator(),
		sequencer: triad.NewSequencer(opts.Triad),
		network:   kuramoto.NewSynchronizer(opts.OscBaseFreq),
		detector:  formation.NewDetector(),
		mag:       magref.New(),
		source:    source,
		magSource: magSource,
		events:    ring.New[Event](opts.EventQueueSize),
	}
	c.fusion.SetThreshold(opts.ActivityThreshold)
	c.estimator.SetAlpha(opts.PhaseAlpha)
	c.estimator.SetHysteresis(opts.PhaseHysteresis)
	c.estimator.SetStabilityWindow(opts.PhaseStability)
	c.network.SetCoupling(opts.OscCoupling)
	c.network.SetSyncThreshold(opts.SyncThreshold)
	c.detector.SetThresholds(opts.FormationKappa, opts.FormationEta, opts.FormationR)
	c.detector.SetWindow(opts.FormationWindow)
	c.detector.SetSigma(opts.FormationSigma)
	c.detector.SetActivation(opts.ActivityThreshold)
	c.mag.SetDeclination(opts.MagDeclinationDeg)
	return c
}

// SetBaselines installs grid baselines, normally from a calibration file.
func (c *Core) SetBaselines(b hexgrid.RawFrame) {
	if c.estopped {
		return
	}
	c.fusion.SetBaselines(b)
}

// CalibrateBaselines averages the given quiet frames into new baselines.
func (c *Core) CalibrateBaselines(samples []hexgrid.RawFrame) {
	if c.estopped {
		return
	}
	c.fusion.Calibrate(samples)
}

// SetMagCalibration installs magnetometer calibration; invalid sets are
// rejected.
func (c *Core) SetMagCalibration(cal magref.Calibration) bool {
	if c.estopped {
		return false
	}
	return c.mag.SetCalibration(cal)
}

// OnUnlock registers the single unlock subscriber. It runs after the tick
// body, never from inside module updates.
func (c *Core) OnUnlock(fn func(Event)) { c.onUnlock = fn }

// OnFormation registers the single formation subscriber.
func (c *Core) OnFormation(fn func(Event)) { c.onFormation = fn }

// Tick advances whichever tasks are due at now. It is cheap to call faster
// than the shortest interval; overdue tasks run once per call except the
// oscillator, which catches up in fixed steps.
func (c *Core) Tick(now time.Time) {
	if c.estopped {
		return
	}
	c.pending = c.pending[:0]

	if c.lastSensor.IsZero() || now.Sub(c.lastSensor) >= c.opts.SensorInterval {
		c.lastSensor = now
		c.runSensorTask(now)
	}
	c.runOscillatorTask(now)
	if c.lastHousekp.IsZero() || now.Sub(c.lastHousekp) >= c.opts.HousekeepingInterval {
		c.lastHousekp = now
		c.runHousekeeping(now)
	}

	for _, ev := range c.pending {
		switch ev.Kind {
		case EventTriadUnlock:
			if c.onUnlock != nil {
				c.onUnlock(ev)
			}
		case EventFormationStart:
			if c.onFormation != nil {
				c.onFormation(ev)
			}
		}
	}
}

func (c *Core) runSensorTask(now time.Time) {
	raw, err := c.source.ReadFrame()
	if err != nil {
		// Hold the last good frame; staleness surfaces via Health.
		log.Printf("core: grid read failed: %v", err)
	} else {
		c.frame = c.fusion.Fuse(raw, now)
		c.haveFrame = true
		c.lastGood = now
		c.fused++
	}
	if !c.haveFrame {
		return
	}

	if c.magSource != nil {
		if sample, err := c.magSource.ReadSample(); err != nil {
			log.Printf("core: mag read failed: %v", err)
		} else {
			c.mag.Update(sample, now)
		}
	}
	if c.mag.Healthy(now) {
		c.frame.Theta = magref.BlendTheta(c.frame.CentroidX, c.frame.CentroidY, c.mag.Reading().Theta)
		c.network.SetModulation(c.mag.CouplingModulation())
	}

	if tr, ok := c.estimator.Update(c.frame.Z, now); ok {
		c.push(Event{Kind: EventPhaseTransition, Time: now, Z: c.frame.Z, Transition: tr})
	}

	metrics, started := c.detector.Update(c.frame, now)
	c.coherence = metrics.Kappa
	if started {
		c.push(Event{Kind: EventFormationStart, Time: now, Z: c.frame.Z, Formation: metrics})
	}

	if ev := c.sequencer.Update(c.coherence, now); ev != triad.EventNone {
		kind, ok := triadEventKind(ev)
		if ok {
			c.push(Event{Kind: kind, Time: now, Z: c.frame.Z, Triad: c.sequencer.Status()})
		}
	}

	c.network.TrackZ(c.frame.Z)
}

// oscillator catch-up is capped so a long stall cannot wedge a tick.
const maxOscSteps = 100

func (c *Core) runOscillatorTask(now time.Time) {
	if c.lastOsc.IsZero() {
		c.lastOsc = now
		return
	}
	interval := c.opts.OscillatorInterval
	steps := int(now.Sub(c.lastOsc) / interval)
	if steps <= 0 {
		return
	}
	if steps > maxOscSteps {
		steps = maxOscSteps
		c.lastOsc = now
	} else {
		c.lastOsc = c.lastOsc.Add(time.Duration(steps) * interval)
	}
	dt := interval.Seconds()
	for i := 0; i < steps; i++ {
		c.network.Step(dt)
	}
}

func (c *Core) runHousekeeping(now time.Time) {
	if !c.rateMark.IsZero() {
		if dt := now.Sub(c.rateMark).Seconds(); dt > 0 {
			c.updateRate = float64(c.fused) / dt
		}
	}
	c.rateMark = now
	c.fused = 0

	if c.network.ConservationOK() {
		c.violations = 0
	} else {
		c.noteViolation(now)
	}
	if c.haveFrame && now.Sub(c.lastGood) > c.opts.Freshness {
		log.Printf("core: grid data stale for %s", now.Sub(c.lastGood).Round(time.Millisecond))
	}
}

// noteViolation counts a conservation failure. Repeated failures mean a
// numerical or hardware defect, not noise, so the engine latches off.
func (c *Core) noteViolation(now time.Time) {
	c.violations++
	log.Printf("core: conservation violation %d/%d (r=%.9f)",
		c.violations, c.opts.MaxConservationViolations, c.network.OrderParameter())
	if c.violations >= c.opts.MaxConservationViolations {
		c.estopped = true
		log.Printf("core: emergency stop latched after %d consecutive violations", c.violations)
		c.push(Event{Kind: EventEmergencyStop, Time: now})
	}
}

func triadEventKind(ev triad.Event) (EventKind, bool) {
	switch ev {
	case triad.EventRisingEdge:
		return EventTriadRising, true
	case triad.EventFallingEdge:
		return EventTriadFalling, true
	case triad.EventUnlock:
		return EventTriadUnlock, true
	case triad.EventTimeout:
		return EventTriadTimeout, true
	case triad.EventLockoutEnd:
		return EventTriadLockoutEnd, true
	}
	return 0, false
}

// push queues an event for the caller and remembers it for post-tick
// notification. The oldest event is dropped when the queue is full.
func (c *Core) push(ev Event) {
	if c.events.Push(ev) {
		log.Printf("core: event queue full, dropped oldest")
	}
	c.pending = append(c.pending, ev)
}

// PollEvent pops the oldest queued event.
func (c *Core) PollEvent() (Event, bool) { return c.events.Pop() }

// DrainEvents pops every queued event, oldest first.
func (c *Core) DrainEvents() []Event {
	out := make([]Event, 0, c.events.Len())
	for {
		ev, ok := c.events.Pop()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// Frame returns the most recent fused frame.
func (c *Core) Frame() hexgrid.Frame { return c.frame }

// Phase returns the phase estimator snapshot.
func (c *Core) Phase() phase.State { return c.estimator.State() }

// Triad returns the unlock sequencer snapshot.
func (c *Core) Triad() triad.Status { return c.sequencer.Status() }

// Network returns the oscillator network snapshot.
func (c *Core) Network() kuramoto.Status { return c.network.Status() }

// Formation returns the formation detector snapshot.
func (c *Core) Formation() formation.Status { return c.detector.Status() }

// Mag returns the latest magnetometer reading.
func (c *Core) Mag() magref.Reading { return c.mag.Reading() }

// Coherence returns the windowed coherence currently feeding the sequencer.
func (c *Core) Coherence() float64 { return c.coherence }

// Health reports sensing freshness and the violation counter. Fresh is
// evaluated against now rather than the last housekeeping pass so callers
// see staleness without waiting for one.
func (c *Core) Health(now time.Time) Health {
	fresh := c.haveFrame && now.Sub(c.lastGood) <= c.opts.Freshness
	return Health{
		Initialized:   c.haveFrame,
		Fresh:         fresh,
		LastFrameTime: c.lastGood,
		MagHealthy:    c.mag.Healthy(now),
		Violations:    c.violations,
		EmergencyStop: c.estopped,
		UpdateRateHz:  c.updateRate,
	}
}

// EmergencyStopped reports whether the engine has latched off.
func (c *Core) EmergencyStopped() bool { return c.estopped }

// ForceUnlock drives the sequencer to Unlocked and queues the event.
func (c *Core) ForceUnlock(now time.Time) {
	if c.estopped {
		return
	}
	if ev := c.sequencer.ForceUnlock(now); ev == triad.EventUnlock {
		c.pending = c.pending[:0]
		c.push(Event{Kind: EventTriadUnlock, Time: now, Triad: c.sequencer.Status()})
		if c.onUnlock != nil {
			c.onUnlock(c.pending[0])
		}
	}
}

// ForceLock drives the sequencer into lockout.
func (c *Core) ForceLock(now time.Time) {
	if c.estopped {
		return
	}
	c.sequencer.ForceLock(now)
}

// Reset clears the emergency stop and restarts every module. Baselines and
// magnetometer calibration survive; everything dynamic starts over.
func (c *Core) Reset(now time.Time) {
	c.estimator.Reset()
	c.sequencer.Reset(now)
	c.network.Reset()
	c.detector.ResetStats()
	c.events.Clear()
	c.pending = c.pending[:0]
	c.haveFrame = false
	c.coherence = 0
	c.fused = 0
	c.rateMark = time.Time{}
	c.updateRate = 0
	c.violations = 0
	c.estopped = false
	c.lastSensor = time.Time{}
	c.lastOsc = time.Time{}
	c.lastHousekp = time.Time{}
	c.frame = hexgrid.Frame{}
	c.lastGood = time.Time{}
}
