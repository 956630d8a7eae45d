package hexgrid

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatRaw(v uint16) RawFrame {
	var r RawFrame
	for i := range r {
		r[i] = v
	}
	return r
}

func TestNormalizeClamping(t *testing.T) {
	tests := []struct {
		name     string
		raw      uint16
		baseline uint16
		want     float64
	}{
		{"zero baseline yields zero", 123, 0, 0},
		{"raw above baseline clamps to zero", 600, 500, 0},
		{"untouched channel", 500, 500, 0},
		{"half range", 450, 500, 0.5},
		{"full range", 400, 500, 1},
		{"beyond range clamps to one", 100, 500, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, normalize(tc.raw, tc.baseline), 1e-12)
		})
	}
}

func TestFuseUncalibratedIsQuiet(t *testing.T) {
	f := NewFusion()
	frame := f.Fuse(flatRaw(500), time.Unix(0, 0))
	assert.Zero(t, frame.TotalEnergy)
	assert.Zero(t, frame.ActiveCount)
	assert.Zero(t, frame.ActiveMask)
	assert.Zero(t, frame.Z)
	assert.Zero(t, frame.R)
}

func TestFuseDeterministic(t *testing.T) {
	f := NewFusion()
	f.SetBaselines(flatRaw(500))
	raw := flatRaw(500)
	raw[Center] = 420
	raw[4] = 450

	now := time.Unix(1, 0)
	a := f.Fuse(raw, now)
	b := f.Fuse(raw, now)
	assert.Equal(t, a, b)
}

func TestFuseCenterTouch(t *testing.T) {
	f := NewFusion()
	f.SetBaselines(flatRaw(500))
	raw := flatRaw(500)
	raw[Center] = 400 // center fully pressed

	frame := f.Fuse(raw, time.Unix(0, 0))
	assert.Equal(t, 1, frame.ActiveCount)
	assert.Equal(t, uint32(1)<<Center, frame.ActiveMask)
	assert.InDelta(t, 1.0, frame.TotalEnergy, 1e-12)
	// Center pad sits at the origin, so the centroid stays there.
	assert.Zero(t, frame.CentroidX)
	assert.Zero(t, frame.CentroidY)
	assert.Zero(t, frame.R)

	// A lone center press puts 1 into sector 0 and its opposite-pair
	// difference counts twice, so the pattern energy is sqrt(2 + 6).
	wantZ := math.Sqrt(8)/ChannelCount*PhiBlend + (1 - PhiBlend)
	assert.InDelta(t, wantZ, frame.Z, 1e-12)
}

func TestFuseAllChannelsSaturated(t *testing.T) {
	f := NewFusion()
	f.SetBaselines(flatRaw(500))
	frame := f.Fuse(flatRaw(400), time.Unix(0, 0))

	assert.Equal(t, ChannelCount, frame.ActiveCount)
	assert.InDelta(t, float64(ChannelCount), frame.TotalEnergy, 1e-9)
	assert.GreaterOrEqual(t, frame.Z, 0.0)
	assert.LessOrEqual(t, frame.Z, 1.0)
	assert.GreaterOrEqual(t, frame.Theta, 0.0)
	assert.Less(t, frame.Theta, 2*math.Pi)
	assert.LessOrEqual(t, frame.R, 1.0)
}

func TestThetaRangeOffCenterTouch(t *testing.T) {
	f := NewFusion()
	f.SetBaselines(flatRaw(500))

	// Press a left-side pad; centroid angle must land in [0, 2π).
	raw := flatRaw(500)
	raw[7] = 430
	frame := f.Fuse(raw, time.Unix(0, 0))

	x, y := Position(7)
	assert.InDelta(t, x, frame.CentroidX, 1e-12)
	assert.InDelta(t, y, frame.CentroidY, 1e-12)
	assert.GreaterOrEqual(t, frame.Theta, 0.0)
	assert.Less(t, frame.Theta, 2*math.Pi)
	assert.Greater(t, frame.R, 0.0)
}

func TestCalibrateAverages(t *testing.T) {
	f := NewFusion()
	f.Calibrate(nil)
	_, ok := f.Baselines()
	assert.False(t, ok, "empty calibration must not install baselines")

	f.Calibrate([]RawFrame{flatRaw(490), flatRaw(510)})
	b, ok := f.Baselines()
	require.True(t, ok)
	for i := range b {
		assert.Equal(t, uint16(500), b[i])
	}
}

func TestChannelReading(t *testing.T) {
	f := NewFusion()
	f.SetBaselines(flatRaw(500))
	raw := flatRaw(500)
	raw[3] = 455
	f.Fuse(raw, time.Unix(0, 0))

	r := f.Channel(3)
	assert.Equal(t, uint16(455), r.Raw)
	assert.Equal(t, uint16(500), r.Baseline)
	assert.Equal(t, 45, r.Delta)
	assert.InDelta(t, 0.45, r.Normalized, 1e-12)
	assert.True(t, r.Active)

	assert.Equal(t, Reading{}, f.Channel(-1))
	assert.Equal(t, Reading{}, f.Channel(ChannelCount))
}

func TestTopology(t *testing.T) {
	x, y := Position(Center)
	assert.Zero(t, x)
	assert.Zero(t, y)

	n := Neighbors(Center)
	assert.ElementsMatch(t, []int{4, 5, 8, 10, 13, 14}, n)

	// Corner pad has three neighbors.
	assert.Len(t, Neighbors(0), 3)
	assert.Nil(t, Neighbors(-1))
	assert.Nil(t, Neighbors(ChannelCount))
}

func TestSetThresholdClamps(t *testing.T) {
	f := NewFusion()
	f.SetThreshold(-0.5)
	assert.Zero(t, f.Threshold())
	f.SetThreshold(1.5)
	assert.Equal(t, 1.0, f.Threshold())
	f.SetThreshold(0.25)
	assert.Equal(t, 0.25, f.Threshold())
}
