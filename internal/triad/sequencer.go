// Package triad implements the unlock state machine: three debounced rising
// crossings of a high threshold, each re-armed by a drop below a low
// threshold, complete a pass sequence and unlock. The sequencer is the sole
// unlock authority in the system.
package triad

import "time"

// State is the sequencer state.
type State int

const (
	Idle State = iota
	Armed
	Crossing1
	Crossing2
	Crossing3
	Unlocked
	LockedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case Crossing1:
		return "CROSSING_1"
	case Crossing2:
		return "CROSSING_2"
	case Crossing3:
		return "CROSSING_3"
	case Unlocked:
		return "UNLOCKED"
	case LockedOut:
		return "LOCKED_OUT"
	}
	return "UNKNOWN"
}

// Event is returned from Update when something notable happened.
type Event int

const (
	EventNone Event = iota
	EventRisingEdge
	EventFallingEdge
	EventUnlock
	EventTimeout
	EventLockoutEnd
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "NONE"
	case EventRisingEdge:
		return "RISING_EDGE"
	case EventFallingEdge:
		return "FALLING_EDGE"
	case EventUnlock:
		return "UNLOCK"
	case EventTimeout:
		return "TIMEOUT"
	case EventLockoutEnd:
		return "LOCKOUT_END"
	}
	return "UNKNOWN"
}

// Defaults.
const (
	DefaultHighThreshold   = 0.85
	DefaultLowThreshold    = 0.82
	DefaultPassesRequired  = 3
	DefaultSequenceTimeout = 10 * time.Second
	DefaultLockoutDuration = 5 * time.Second
	DefaultDebounceTime    = 100 * time.Millisecond

	// unlockExitMargin below the low threshold ends the unlocked state.
	unlockExitMargin = 0.1
)

// Config holds the sequencer thresholds and timing.
type Config struct {
	HighThreshold   float64
	LowThreshold    float64
	PassesRequired  int
	SequenceTimeout time.Duration
	LockoutDuration time.Duration
	DebounceTime    time.Duration
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		HighThreshold:   DefaultHighThreshold,
		LowThreshold:    DefaultLowThreshold,
		PassesRequired:  DefaultPassesRequired,
		SequenceTimeout: DefaultSequenceTimeout,
		LockoutDuration: DefaultLockoutDuration,
		DebounceTime:    DefaultDebounceTime,
	}
}

// sanitize clamps the config into a usable range. The low threshold always
// ends up strictly below the high one.
func (c Config) sanitize() Config {
	clamp01 := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	c.HighThreshold = clamp01(c.HighThreshold)
	c.LowThreshold = clamp01(c.LowThreshold)
	if c.LowThreshold >= c.HighThreshold {
		c.LowThreshold = c.HighThreshold - 0.01
		if c.LowThreshold < 0 {
			c.LowThreshold = 0
		}
	}
	if c.PassesRequired < 1 {
		c.PassesRequired = 1
	}
	if c.SequenceTimeout <= 0 {
		c.SequenceTimeout = DefaultSequenceTimeout
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	if c.DebounceTime < 0 {
		c.DebounceTime = 0
	}
	return c
}

// Status is an immutable snapshot of the sequencer.
type Status struct {
	State         State
	CrossingCount int
	IsUnlocked    bool
	CurrentValue  float64
	StateDuration time.Duration
	UnlockedAt    time.Time
	LastEvent     Event
}

// Sequencer runs the unlock state machine. Not safe for concurrent use;
// time is supplied by the caller.
type Sequencer struct {
	cfg    Config
	status Status

	prevValue     float64
	sequenceStart time.Time
	lastEdge      time.Time
	lockedAt      time.Time
}

// NewSequencer returns an idle sequencer with the given (sanitized) config.
func NewSequencer(cfg Config) *Sequencer {
	return &Sequencer{cfg: cfg.sanitize()}
}

// Config returns the active, sanitized configuration.
func (s *Sequencer) Config() Config { return s.cfg }

// Update feeds one coherence value sampled at now.
func (s *Sequencer) Update(value float64, now time.Time) Event {
	event := EventNone
	s.status.CurrentValue = value

	active := s.status.State != Idle && s.status.State != Unlocked && s.status.State != LockedOut
	if active {
		s.status.StateDuration = now.Sub(s.sequenceStart)
		if s.status.StateDuration > s.cfg.SequenceTimeout {
			s.status.CrossingCount = 0
			s.transitionTo(Idle, now)
			event = EventTimeout
			s.finish(value, event)
			return event
		}
	} else {
		s.status.StateDuration = 0
	}

	if s.status.State == LockedOut {
		if now.Sub(s.lockedAt) > s.cfg.LockoutDuration {
			s.status.IsUnlocked = false
			s.transitionTo(Idle, now)
			event = EventLockoutEnd
		}
		s.finish(value, event)
		return event
	}

	switch s.status.State {
	case Idle:
		if value < s.cfg.LowThreshold {
			s.transitionTo(Armed, now)
		}

	case Armed:
		if s.risingEdge(value, now) {
			s.status.CrossingCount = 1
			s.sequenceStart = now
			event = s.advance(now)
		}

	case Crossing1, Crossing2, Crossing3:
		if s.fallingEdge(value, now) {
			event = EventFallingEdge
		}
		if s.risingEdge(value, now) {
			s.status.CrossingCount++
			event = s.advance(now)
		}

	case Unlocked:
		if value < s.cfg.LowThreshold-unlockExitMargin {
			s.lock(now)
		}
	}

	s.finish(value, event)
	return event
}

// advance moves to the next crossing state after a counted rising edge, or
// unlocks once the required passes are in.
func (s *Sequencer) advance(now time.Time) Event {
	if s.status.CrossingCount >= s.cfg.PassesRequired {
		s.status.IsUnlocked = true
		s.status.UnlockedAt = now
		s.transitionTo(Unlocked, now)
		return EventUnlock
	}
	switch s.status.CrossingCount {
	case 1:
		s.transitionTo(Crossing1, now)
	case 2:
		s.transitionTo(Crossing2, now)
	default:
		s.transitionTo(Crossing3, now)
	}
	return EventRisingEdge
}

func (s *Sequencer) finish(value float64, event Event) {
	s.status.LastEvent = event
	s.prevValue = value
}

// risingEdge reports a debounced crossing of the high threshold from below.
func (s *Sequencer) risingEdge(value float64, now time.Time) bool {
	if now.Sub(s.lastEdge) < s.cfg.DebounceTime {
		return false
	}
	if s.prevValue < s.cfg.HighThreshold && value >= s.cfg.HighThreshold {
		s.lastEdge = now
		return true
	}
	return false
}

// fallingEdge reports a debounced drop below the low threshold, re-arming
// the next crossing.
func (s *Sequencer) fallingEdge(value float64, now time.Time) bool {
	if now.Sub(s.lastEdge) < s.cfg.DebounceTime {
		return false
	}
	if s.prevValue >= s.cfg.LowThreshold && value < s.cfg.LowThreshold {
		s.lastEdge = now
		return true
	}
	return false
}

func (s *Sequencer) transitionTo(next State, now time.Time) {
	s.status.State = next
	if next == Idle || next == Armed {
		s.status.CrossingCount = 0
		s.sequenceStart = now
	}
}

// lock enters the lockout state; the lockout clock starts at now.
func (s *Sequencer) lock(now time.Time) {
	s.lockedAt = now
	s.transitionTo(LockedOut, now)
}

// Status returns a copy of the current status.
func (s *Sequencer) Status() Status { return s.status }

// Reset returns the sequencer to Idle and clears all progress.
func (s *Sequencer) Reset(now time.Time) {
	s.status = Status{State: Idle}
	s.prevValue = 0
	s.sequenceStart = now
	s.lastEdge = time.Time{}
	s.lockedAt = time.Time{}
}

// ForceUnlock unlocks immediately, crediting the full pass count.
func (s *Sequencer) ForceUnlock(now time.Time) Event {
	s.status.IsUnlocked = true
	s.status.UnlockedAt = now
	s.status.CrossingCount = s.cfg.PassesRequired
	s.transitionTo(Unlocked, now)
	s.status.LastEvent = EventUnlock
	return EventUnlock
}

// ForceLock drops any unlock and enters the lockout state.
func (s *Sequencer) ForceLock(now time.Time) {
	s.status.IsUnlocked = false
	s.lock(now)
	s.status.LastEvent = EventNone
}
