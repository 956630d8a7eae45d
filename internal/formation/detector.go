// Package formation watches the fused field for the locked configuration:
// a temporally coherent pattern (κ), field elevation near the critical
// coordinate (η) and enough simultaneously resonant channels (R). All three
// gates must hold at once; none substitutes for another.
package formation

import (
	"math"
	"time"

	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/ring"
)

const (
	// HistoryCapacity bounds the retained frame history.
	HistoryCapacity = 64
	// DefaultWindow is how many recent frames feed the coherence metric.
	DefaultWindow = 32

	// DefaultKappaThreshold gates temporal coherence.
	DefaultKappaThreshold = 0.92
	// DefaultEtaThreshold gates the elevation kernel; the inverse golden
	// ratio, matching the lower phase boundary.
	DefaultEtaThreshold = 0.6180339887498948482
	// DefaultResonanceThreshold is the minimum count of active channels.
	DefaultResonanceThreshold = 7

	// KernelCenter is the elevation where η peaks, sqrt(3)/2.
	KernelCenter = 0.8660254037844386468
	// DefaultSigma is the kernel width.
	DefaultSigma = 0.1667
	// DefaultActivation is the per-channel level that counts toward R.
	DefaultActivation = 0.3

	// varianceScale converts windowed standard deviation into the κ
	// penalty; a deviation of about 0.1 halves the coherence.
	varianceScale = 3.16
)

// Metrics is one evaluation of the three gates.
type Metrics struct {
	Z       float64
	Kappa   float64
	Eta     float64
	R       int
	KappaOK bool
	EtaOK   bool
	ROK     bool
	Active  bool
	Time    time.Time
}

// Status is an immutable snapshot of the detector.
type Status struct {
	Current           Metrics
	Active            bool
	TotalFormations   int
	FormationStart    time.Time
	FormationDuration time.Duration
	PeakKappa         float64
	PeakEta           float64
}

// histEntry keeps just the readings; the metrics recompute everything else.
type histEntry struct {
	readings [hexgrid.ChannelCount]float64
}

// Detector evaluates the formation gates per frame. Not safe for concurrent
// use; time comes in with each frame.
type Detector struct {
	status Status

	kappaThreshold float64
	etaThreshold   float64
	rThreshold     int
	window         int
	sigma          float64
	activation     float64

	history *ring.Buffer[histEntry]
}

// NewDetector returns a detector with stock thresholds and an empty history.
func NewDetector() *Detector {
	return &Detector{
		kappaThreshold: DefaultKappaThreshold,
		etaThreshold:   DefaultEtaThreshold,
		rThreshold:     DefaultResonanceThreshold,
		window:         DefaultWindow,
		sigma:          DefaultSigma,
		activation:     DefaultActivation,
		history:        ring.New[histEntry](HistoryCapacity),
	}
}

// Update folds one frame into the history, evaluates the gates and reports
// whether a formation started on this frame.
func (d *Detector) Update(frame hexgrid.Frame, now time.Time) (Metrics, bool) {
	d.history.Push(histEntry{readings: frame.Readings})

	m := Metrics{
		Z:     frame.Z,
		Kappa: d.coherence(),
		Eta:   d.negentropy(frame.Z),
		R:     d.resonance(&frame.Readings),
		Time:  now,
	}
	m.KappaOK = m.Kappa >= d.kappaThreshold
	m.EtaOK = m.Eta > d.etaThreshold
	m.ROK = m.R >= d.rThreshold
	m.Active = m.KappaOK && m.EtaOK && m.ROK

	wasActive := d.status.Active
	d.status.Current = m
	d.status.Active = m.Active

	started := m.Active && !wasActive
	if started {
		d.status.FormationStart = now
		d.status.TotalFormations++
	}
	if m.Active {
		d.status.FormationDuration = now.Sub(d.status.FormationStart)
	}

	if m.Kappa > d.status.PeakKappa {
		d.status.PeakKappa = m.Kappa
	}
	if m.Eta > d.status.PeakEta {
		d.status.PeakEta = m.Eta
	}
	return m, started
}

// coherence is 1 minus the scaled standard deviation of the windowed
// per-channel readings, clamped to [0,1]. Fewer than two frames give 0.
func (d *Detector) coherence() float64 {
	n := d.history.Len()
	if n < 2 {
		return 0
	}
	window := d.window
	if window > n {
		window = n
	}
	start := n - window

	var means [hexgrid.ChannelCount]float64
	for i := 0; i < window; i++ {
		e, _ := d.history.At(start + i)
		for s, v := range e.readings {
			means[s] += v
		}
	}
	for s := range means {
		means[s] /= float64(window)
	}

	var variance float64
	for i := 0; i < window; i++ {
		e, _ := d.history.At(start + i)
		for s, v := range e.readings {
			diff := v - means[s]
			variance += diff * diff
		}
	}
	variance /= float64(window * hexgrid.ChannelCount)

	kappa := 1 - math.Sqrt(variance)*varianceScale
	if kappa < 0 {
		return 0
	}
	if kappa > 1 {
		return 1
	}
	return kappa
}

// negentropy is a Gaussian kernel of z centered on KernelCenter.
func (d *Detector) negentropy(z float64) float64 {
	diff := z - KernelCenter
	return math.Exp(-(diff * diff) / (2 * d.sigma * d.sigma))
}

// resonance counts channels above the activation level.
func (d *Detector) resonance(readings *[hexgrid.ChannelCount]float64) int {
	count := 0
	for _, v := range readings {
		if v > d.activation {
			count++
		}
	}
	return count
}

// Status returns a copy of the detector status.
func (d *Detector) Status() Status { return d.status }

// SetWindow sets the coherence window; values outside [1, HistoryCapacity]
// are ignored.
func (d *Detector) SetWindow(samples int) {
	if samples > 0 && samples <= HistoryCapacity {
		d.window = samples
	}
}

// SetThresholds updates the three gates. Each is validated independently
// and left unchanged when out of range.
func (d *Detector) SetThresholds(kappa, eta float64, r int) {
	if kappa > 0 && kappa <= 1 {
		d.kappaThreshold = kappa
	}
	if eta > 0 && eta <= 1 {
		d.etaThreshold = eta
	}
	if r > 0 && r <= hexgrid.ChannelCount {
		d.rThreshold = r
	}
}

// SetSigma sets the kernel width; non-positive values are ignored.
func (d *Detector) SetSigma(sigma float64) {
	if sigma > 0 {
		d.sigma = sigma
	}
}

// SetActivation sets the per-channel resonance level, clamped to [0,1].
func (d *Detector) SetActivation(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	d.activation = level
}

// ResetStats clears counters, peaks and the frame history. Thresholds are
// kept.
func (d *Detector) ResetStats() {
	d.status = Status{}
	d.history.Clear()
}
