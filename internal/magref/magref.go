// Package magref turns raw magnetometer counts into a calibrated field
// reading and derives the quantities the rest of the system consumes: a
// smoothed heading, an absolute theta reference that blends with the pad
// centroid, and a coupling modulation factor for the oscillator network.
package magref

import (
	"fmt"
	"math"
	"time"
)

const (
	// headingSmooth is the EMA weight on the newest heading, 1/e.
	headingSmooth = 0.36787944117144233
	// nominalFieldUT is the reference field strength for coupling
	// modulation, roughly Earth's mid-latitude field.
	nominalFieldUT = 50.0
	// couplingRange scales how strongly the field ratio sways the
	// coupling; the inverse golden ratio.
	couplingRange = 0.6180339887498948482
	// gainScale converts raw counts to Gauss at the default ±1.3 Ga range.
	gainScale = 1090.0
	// scaleDivisor turns stored integer soft-iron scales into factors.
	scaleDivisor = 1000.0

	// freshness is how recent a reading must be to count as healthy.
	freshness = time.Second

	// Healthy magnitude bounds in µT. Earth's field is 25 to 65.
	minHealthyUT = 10.0
	maxHealthyUT = 100.0

	// MinCalibrationSamples is the fewest figure-8 samples accepted.
	MinCalibrationSamples = 100
)

// RawSample is one set of signed counts from the magnetometer.
type RawSample struct {
	X, Y, Z int16
}

// Calibration holds hard-iron offsets in counts and soft-iron scales as
// thousandths.
type Calibration struct {
	OffsetX, OffsetY, OffsetZ int16
	ScaleX, ScaleY, ScaleZ    int16
	DeclinationDeg            float64
	Calibrated                bool
}

// DefaultCalibration is the identity: no offset, unity scale.
func DefaultCalibration() Calibration {
	return Calibration{ScaleX: 1000, ScaleY: 1000, ScaleZ: 1000}
}

// Valid reports whether the scales look like a plausible calibration.
func (c Calibration) Valid() bool {
	plausible := func(s int16) bool {
		a := int(s)
		if a < 0 {
			a = -a
		}
		return a > 100 && a < 10000
	}
	return c.Calibrated && plausible(c.ScaleX) && plausible(c.ScaleY) && plausible(c.ScaleZ)
}

// Reading is one calibrated field measurement.
type Reading struct {
	X, Y, Z    float64 // µT
	Magnitude  float64 // µT
	HeadingDeg float64 // smoothed, declination applied, [0,360)
	Theta      float64 // heading in radians, [0,2π)
	Valid      bool
	Time       time.Time
}

// Reference maintains the calibrated magnetic state. Not safe for
// concurrent use.
type Reference struct {
	cal             Calibration
	reading         Reading
	headingSmoothed float64
}

// New returns a Reference with the identity calibration.
func New() *Reference {
	return &Reference{cal: DefaultCalibration()}
}

// SetCalibration installs cal if it passes the validity check.
func (m *Reference) SetCalibration(cal Calibration) bool {
	if !cal.Valid() {
		return false
	}
	m.cal = cal
	return true
}

// Calibration returns the active calibration.
func (m *Reference) Calibration() Calibration { return m.cal }

// SetDeclination sets the local magnetic declination in degrees.
func (m *Reference) SetDeclination(deg float64) {
	m.cal.DeclinationDeg = deg
}

// Update applies the calibration to raw counts sampled at now and refreshes
// the derived heading and theta.
func (m *Reference) Update(raw RawSample, now time.Time) Reading {
	x, y, z := m.applyCalibration(raw)

	r := Reading{
		X: x, Y: y, Z: z,
		Magnitude: math.Sqrt(x*x + y*y + z*z),
		Valid:     true,
		Time:      now,
	}

	heading := math.Atan2(y, x)*180/math.Pi + m.cal.DeclinationDeg
	for heading < 0 {
		heading += 360
	}
	for heading >= 360 {
		heading -= 360
	}
	m.headingSmoothed = headingSmooth*heading + (1-headingSmooth)*m.headingSmoothed
	r.HeadingDeg = m.headingSmoothed
	r.Theta = m.headingSmoothed * math.Pi / 180

	m.reading = r
	return r
}

// applyCalibration removes the hard-iron offset, applies soft-iron scales
// and converts to µT. Implausibly small scales fall back to unity.
func (m *Reference) applyCalibration(raw RawSample) (x, y, z float64) {
	scale := func(s int16) float64 {
		f := float64(s) / scaleDivisor
		if f < 0.1 {
			return 1
		}
		return f
	}
	cx := float64(int(raw.X) - int(m.cal.OffsetX))
	cy := float64(int(raw.Y) - int(m.cal.OffsetY))
	cz := float64(int(raw.Z) - int(m.cal.OffsetZ))

	// 1 Gauss is 100 µT.
	x = cx / gainScale * scale(m.cal.ScaleX) * 100
	y = cy / gainScale * scale(m.cal.ScaleY) * 100
	z = cz / gainScale * scale(m.cal.ScaleZ) * 100
	return x, y, z
}

// Reading returns the last measurement.
func (m *Reference) Reading() Reading { return m.reading }

// Healthy reports whether the last reading is valid, plausibly sized and
// fresh as of now.
func (m *Reference) Healthy(now time.Time) bool {
	r := m.reading
	if !r.Valid {
		return false
	}
	if r.Magnitude < minHealthyUT || r.Magnitude > maxHealthyUT {
		return false
	}
	return now.Sub(r.Time) <= freshness
}

// CouplingModulation maps the field magnitude onto a multiplicative factor
// for the oscillator coupling. Without a valid reading it returns 1.
func (m *Reference) CouplingModulation() float64 {
	if !m.reading.Valid {
		return 1
	}
	ratio := m.reading.Magnitude / nominalFieldUT
	if ratio < 0.5 {
		ratio = 0.5
	}
	if ratio > 2 {
		ratio = 2
	}
	return 1 + couplingRange*(ratio-1)
}

// Reset drops the last reading and heading state. Calibration is kept.
func (m *Reference) Reset() {
	m.reading = Reading{}
	m.headingSmoothed = 0
}

// BlendTheta fuses the pad centroid angle with the magnetic theta. The
// magnetic reference dominates when the centroid sits near the array
// center, up to a weight of 0.8; a strongly off-center centroid wins.
func BlendTheta(centroidX, centroidY, magTheta float64) float64 {
	hexTheta := math.Atan2(centroidY, centroidX)
	if hexTheta < 0 {
		hexTheta += 2 * math.Pi
	}

	dist := math.Hypot(centroidX, centroidY)
	weight := 1 - dist/2
	if weight < 0 {
		weight = 0
	}
	if weight > 0.8 {
		weight = 0.8
	}

	dx := math.Cos(magTheta)*weight + math.Cos(hexTheta)*(1-weight)
	dy := math.Sin(magTheta)*weight + math.Sin(hexTheta)*(1-weight)
	theta := math.Atan2(dy, dx)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}

// Calibrator accumulates min/max extents while the device is rotated in a
// figure-8, then derives hard and soft iron corrections.
type Calibrator struct {
	min, max [3]int16
	samples  int
}

// NewCalibrator returns a calibrator ready to accumulate.
func NewCalibrator() *Calibrator {
	c := &Calibrator{}
	for i := 0; i < 3; i++ {
		c.min[i] = math.MaxInt16
		c.max[i] = math.MinInt16
	}
	return c
}

// Add folds one raw sample into the extents.
func (c *Calibrator) Add(raw RawSample) {
	vals := [3]int16{raw.X, raw.Y, raw.Z}
	for i, v := range vals {
		if v < c.min[i] {
			c.min[i] = v
		}
		if v > c.max[i] {
			c.max[i] = v
		}
	}
	c.samples++
}

// Samples returns how many samples were added.
func (c *Calibrator) Samples() int { return c.samples }

// Finish derives the calibration: offsets at the extent centers, scales
// normalizing each axis range to the average range.
func (c *Calibrator) Finish() (Calibration, error) {
	if c.samples < MinCalibrationSamples {
		return Calibration{}, fmt.Errorf("magnetometer calibration: need %d samples, have %d",
			MinCalibrationSamples, c.samples)
	}

	cal := DefaultCalibration()
	cal.OffsetX = int16((int(c.min[0]) + int(c.max[0])) / 2)
	cal.OffsetY = int16((int(c.min[1]) + int(c.max[1])) / 2)
	cal.OffsetZ = int16((int(c.min[2]) + int(c.max[2])) / 2)

	var ranges [3]int
	for i := 0; i < 3; i++ {
		ranges[i] = (int(c.max[i]) - int(c.min[i])) / 2
	}
	avg := (ranges[0] + ranges[1] + ranges[2]) / 3
	if avg > 0 {
		for i, r := range ranges {
			if r == 0 {
				continue
			}
			s := int16(float64(avg) / float64(r) * scaleDivisor)
			switch i {
			case 0:
				cal.ScaleX = s
			case 1:
				cal.ScaleY = s
			case 2:
				cal.ScaleZ = s
			}
		}
	}
	cal.Calibrated = true
	return cal, nil
}
