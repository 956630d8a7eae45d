package sensors

import (
	"math"
	"time"

	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/magref"
)

const mockBaseline = 500

type mockGrid struct {
	start time.Time
}

// NewMockGrid returns a grid source that synthesizes a slow press sweeping
// outward from the center pad, for bench work without hardware.
func NewMockGrid() GridReader {
	return &mockGrid{start: time.Now()}
}

func (m *mockGrid) ReadFrame() (hexgrid.RawFrame, error) {
	elapsed := time.Since(m.start).Seconds()

	// Envelope breathing between 0 and 1 over ~8 s.
	envelope := 0.5 * (1 - math.Cos(elapsed*math.Pi/4))

	var frame hexgrid.RawFrame
	for i := range frame {
		x, y := hexgrid.Position(i)
		dist := math.Hypot(x, y)
		// Press strength falls off with distance from the center and
		// grows with the envelope.
		press := envelope * math.Max(0, 1-dist/(1+3*envelope))
		frame[i] = mockBaseline - uint16(press*100)
	}
	return frame, nil
}

// MockBaselines returns the flat baselines matching NewMockGrid output at
// rest.
func MockBaselines() hexgrid.RawFrame {
	var b hexgrid.RawFrame
	for i := range b {
		b[i] = mockBaseline
	}
	return b
}

type mockMag struct {
	start time.Time
}

// NewMockMag returns a magnetometer source producing a nominal-strength
// field slowly rotating in the horizontal plane.
func NewMockMag() MagReader {
	return &mockMag{start: time.Now()}
}

func (m *mockMag) ReadSample() (magref.RawSample, error) {
	elapsed := time.Since(m.start).Seconds()
	angle := elapsed * 2 * math.Pi / 60 // one turn per minute

	// 545 counts is roughly 50 µT at the default gain.
	return magref.RawSample{
		X: int16(545 * math.Cos(angle)),
		Y: int16(545 * math.Sin(angle)),
		Z: int16(100),
	}, nil
}
