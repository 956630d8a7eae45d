package hexgrid

import (
	"math"
	"time"
)

// PhiBlend is the inverse golden ratio used to blend the sector pattern
// metric with the center pad contribution.
const PhiBlend = 0.6180339887498948482

// normScale is the count range mapped onto [0,1] when normalizing a channel
// against its baseline.
const normScale = 100.0

// DefaultActivityThreshold is the normalized level above which a channel
// counts as active.
const DefaultActivityThreshold = 0.3

// RawFrame is one set of filtered counts from the touch controllers.
type RawFrame [ChannelCount]uint16

// Reading is the per-channel view of the latest fused frame.
type Reading struct {
	Raw        uint16
	Baseline   uint16
	Delta      int
	Normalized float64
	Active     bool
}

// Frame is an immutable snapshot of the fused field.
type Frame struct {
	Readings    [ChannelCount]float64
	TotalEnergy float64
	ActiveCount int
	ActiveMask  uint32
	CentroidX   float64
	CentroidY   float64
	Z           float64
	Theta       float64
	R           float64
	Time        time.Time
}

// Fusion normalizes raw frames against calibrated baselines and derives the
// field coordinates. Not safe for concurrent use.
type Fusion struct {
	baselines  RawFrame
	raw        RawFrame
	calibrated bool
	threshold  float64
}

var channelSector [ChannelCount]int

func init() {
	for i := 0; i < ChannelCount; i++ {
		channelSector[i] = sectorOf(i)
	}
}

// NewFusion returns a Fusion with the default activity threshold and no
// baselines. Until Calibrate or SetBaselines runs, each frame is normalized
// against itself, so all readings come out zero.
func NewFusion() *Fusion {
	return &Fusion{threshold: DefaultActivityThreshold}
}

// Calibrate averages the given frames into per-channel baselines.
// It does nothing when samples is empty.
func (f *Fusion) Calibrate(samples []RawFrame) {
	if len(samples) == 0 {
		return
	}
	var accum [ChannelCount]uint32
	for _, s := range samples {
		for i, v := range s {
			accum[i] += uint32(v)
		}
	}
	for i := range f.baselines {
		f.baselines[i] = uint16(accum[i] / uint32(len(samples)))
	}
	f.calibrated = true
}

// SetBaselines installs previously captured baselines, e.g. from a
// calibration file.
func (f *Fusion) SetBaselines(b RawFrame) {
	f.baselines = b
	f.calibrated = true
}

// Baselines returns the current baselines and whether they were set.
func (f *Fusion) Baselines() (RawFrame, bool) {
	return f.baselines, f.calibrated
}

// SetThreshold clamps t to [0,1] and uses it as the activity threshold.
func (f *Fusion) SetThreshold(t float64) {
	f.threshold = math.Min(1, math.Max(0, t))
}

// Threshold returns the activity threshold.
func (f *Fusion) Threshold() float64 { return f.threshold }

// Channel returns the per-channel breakdown of the most recent frame.
func (f *Fusion) Channel(index int) Reading {
	if index < 0 || index >= ChannelCount {
		return Reading{}
	}
	raw := f.raw[index]
	baseline := raw
	if f.calibrated {
		baseline = f.baselines[index]
	}
	norm := normalize(raw, baseline)
	return Reading{
		Raw:        raw,
		Baseline:   baseline,
		Delta:      int(baseline) - int(raw),
		Normalized: norm,
		Active:     norm > f.threshold,
	}
}

// Fuse normalizes raw against the baselines and derives energy, centroid and
// the (z, theta, r) coordinates. The frame is stamped with now.
func (f *Fusion) Fuse(raw RawFrame, now time.Time) Frame {
	f.raw = raw

	frame := Frame{Time: now}
	var sumX, sumY, sumW float64
	for i, v := range raw {
		baseline := v
		if f.calibrated {
			baseline = f.baselines[i]
		}
		n := normalize(v, baseline)
		frame.Readings[i] = n
		frame.TotalEnergy += n
		if n > f.threshold {
			frame.ActiveCount++
			frame.ActiveMask |= 1 << uint(i)
		}
		x, y := Position(i)
		sumX += x * n
		sumY += y * n
		sumW += n
	}
	if sumW > 0.001 {
		frame.CentroidX = sumX / sumW
		frame.CentroidY = sumY / sumW
	}

	frame.Z = computeZ(&frame.Readings)
	frame.Theta = computeTheta(frame.CentroidX, frame.CentroidY)
	frame.R = computeR(frame.CentroidX, frame.CentroidY)
	return frame
}

// normalize maps a raw count to [0,1]. Capacitance drops under load, so the
// delta is baseline minus raw. A zero baseline means uncalibrated and yields 0.
func normalize(raw, baseline uint16) float64 {
	if baseline == 0 {
		return 0
	}
	delta := float64(int(baseline) - int(raw))
	n := delta / normScale
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// patternEnergy reduces the field to a hex-symmetric scalar: energy per
// angular sector, summed as squared differences between opposite sectors,
// plus six times the squared center reading.
func patternEnergy(readings *[ChannelCount]float64) float64 {
	var sector [6]float64
	for i, v := range readings {
		sector[channelSector[i]] += v
	}
	var energy float64
	for i := 0; i < 6; i++ {
		diff := sector[i] - sector[(i+3)%6]
		energy += diff * diff
	}
	energy += readings[Center] * readings[Center] * 6
	return math.Sqrt(energy)
}

// computeZ blends the normalized pattern metric with the squared center
// reading using the inverse golden ratio, clamped to [0,1].
func computeZ(readings *[ChannelCount]float64) float64 {
	z := patternEnergy(readings) / ChannelCount
	z = z*PhiBlend + (1-PhiBlend)*readings[Center]*readings[Center]
	if z < 0 {
		return 0
	}
	if z > 1 {
		return 1
	}
	return z
}

// computeTheta returns the centroid angle in [0, 2π).
func computeTheta(cx, cy float64) float64 {
	theta := math.Atan2(cy, cx)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}

// computeR returns the centroid distance scaled by the array half-width,
// clamped to [0,1].
func computeR(cx, cy float64) float64 {
	r := math.Hypot(cx, cy) / 2
	if r > 1 {
		return 1
	}
	return r
}
