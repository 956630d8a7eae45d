// ./cmd/calibration/main.go
//
// Guided calibration for the hex field hardware.
// Calibrates:
//  1. Grid: per-channel baseline counts, captured with the pads untouched
//  2. Mag: guided 3D rotation to estimate hard-iron offset + per-axis soft-iron scale (min/max method)
//
// Output:
//
//	Writes a JSON file under the configured calibration directory including
//	capture date/time and quality/confidence.
//
// Run:
//
//	go run ./cmd/calibration
//
// Notes / assumptions:
//   - Stores calibration in RAW UNITS (counts). Applying this calibration later requires consistent units.
//   - Mag calibration here uses a practical min/max ellipsoid approximation (offset + diagonal scale). It is
//     robust and easy, though not as accurate as a full 3x3 ellipsoid fit.
package main

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/hexgrid-labs/field_computer/internal/calib"
	"github.com/hexgrid-labs/field_computer/internal/config"
	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/magref"
	"github.com/hexgrid-labs/field_computer/internal/sensors"
)

const (
	sampleHz = 100 // target loop frequency (best-effort)

	magDurationDefault = 60 * time.Second

	// Quality heuristics in raw counts; a quiet pad should sit within a
	// few counts of its baseline.
	stillStdGood = 2.0
	stillStdBad  = 10.0

	// Minimal per-axis half-range (counts) for a usable mag rotation.
	magCoverageMin = 150.0
)

func main() {
	in := bufio.NewReader(os.Stdin)

	if err := config.InitGlobal("field_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	fmt.Println("=== field-computer calibration ===")

	grid, err := sensors.NewGridSource()
	if err != nil {
		log.Fatalf("grid init: %v", err)
	}

	var mag sensors.MagReader
	if cfg.MagEnabled {
		m, err := sensors.NewMagSource()
		if err != nil {
			log.Printf("magnetometer unavailable, skipping mag calibration: %v", err)
		} else {
			mag = m
		}
	}

	// --- Grid baselines ---
	waitEnter(in, fmt.Sprintf("Keep all pads untouched. Press ENTER to capture %d baseline frames...", cfg.CalibrationSamples))

	baselines, worstStd, err := captureBaselines(grid, cfg.CalibrationSamples)
	if err != nil {
		log.Fatalf("baseline capture: %v", err)
	}
	fmt.Printf("baselines captured, worst per-channel stddev %.1f counts (confidence %.2f)\n",
		worstStd, stillnessConfidence(worstStd))

	// --- Magnetometer ---
	magCal := magref.DefaultCalibration()
	magSamples := 0
	if mag != nil {
		waitEnter(in, "Rotate the device slowly through all orientations (figure-8). Press ENTER to start (60s, ENTER again to stop early)...")

		cal, n, halfRange, err := captureMag(in, mag, magDurationDefault)
		if err != nil {
			log.Printf("mag calibration failed: %v (continuing with grid only)", err)
		} else {
			magCal = cal
			magCal.DeclinationDeg = cfg.MagDeclinationDeg
			magSamples = n
			fmt.Printf("mag capture done: %d samples, half-ranges x=%.0f y=%.0f z=%.0f (coverage ok: %t)\n",
				n, halfRange[0], halfRange[1], halfRange[2], minRange(halfRange) >= magCoverageMin)
		}
	}

	file := calib.New(baselines[:], cfg.CalibrationSamples, magCal, magSamples)
	path, err := calib.Save(cfg.CalibrationDir, file)
	if err != nil {
		log.Fatalf("save: %v", err)
	}
	fmt.Printf("calibration written to %s\n", path)
}

// captureBaselines averages count frames into per-channel baselines and
// reports the worst per-channel standard deviation as a quality signal.
func captureBaselines(grid sensors.GridReader, count int) (hexgrid.RawFrame, float64, error) {
	var baselines hexgrid.RawFrame

	interval := time.Second / sampleHz
	sum := make([]uint64, hexgrid.ChannelCount)
	sumSq := make([]float64, hexgrid.ChannelCount)

	for i := 0; i < count; i++ {
		raw, err := grid.ReadFrame()
		if err != nil {
			return baselines, 0, err
		}
		for ch, v := range raw {
			sum[ch] += uint64(v)
			sumSq[ch] += float64(v) * float64(v)
		}
		time.Sleep(interval)
	}

	worstStd := 0.0
	for ch := 0; ch < hexgrid.ChannelCount; ch++ {
		mean := float64(sum[ch]) / float64(count)
		variance := sumSq[ch]/float64(count) - mean*mean
		if variance < 0 {
			variance = 0
		}
		if std := math.Sqrt(variance); std > worstStd {
			worstStd = std
		}
		baselines[ch] = uint16(sum[ch] / uint64(count))
	}
	return baselines, worstStd, nil
}

// captureMag feeds rotation samples into the min/max calibrator until the
// timeout or an ENTER press, whichever comes first.
func captureMag(in *bufio.Reader, mag sensors.MagReader, maxDur time.Duration) (magref.Calibration, int, [3]float64, error) {
	calibrator := magref.NewCalibrator()

	stop := make(chan struct{})
	go func() {
		_, _ = in.ReadString('\n')
		close(stop)
	}()

	interval := time.Second / sampleHz
	deadline := time.Now().Add(maxDur)

	var mins, maxs [3]int16
	first := true

	for time.Now().Before(deadline) {
		select {
		case <-stop:
			deadline = time.Now()
		default:
		}

		raw, err := mag.ReadSample()
		if err != nil {
			log.Printf("mag read error: %v", err)
			time.Sleep(interval)
			continue
		}
		calibrator.Add(raw)

		axes := [3]int16{raw.X, raw.Y, raw.Z}
		for i, v := range axes {
			if first || v < mins[i] {
				mins[i] = v
			}
			if first || v > maxs[i] {
				maxs[i] = v
			}
		}
		first = false
		time.Sleep(interval)
	}

	var halfRange [3]float64
	for i := range halfRange {
		halfRange[i] = float64(maxs[i]-mins[i]) / 2
	}

	cal, err := calibrator.Finish()
	if err != nil {
		return magref.Calibration{}, calibrator.Samples(), halfRange, err
	}
	if minRange(halfRange) < magCoverageMin {
		return magref.Calibration{}, calibrator.Samples(), halfRange,
			fmt.Errorf("rotation coverage too small (min half-range %.0f counts, need %.0f)", minRange(halfRange), magCoverageMin)
	}
	return cal, calibrator.Samples(), halfRange, nil
}

func stillnessConfidence(std float64) float64 {
	if std <= stillStdGood {
		return 1
	}
	if std >= stillStdBad {
		return 0.05
	}
	return 1 - (std-stillStdGood)/(stillStdBad-stillStdGood)*0.95
}

func minRange(r [3]float64) float64 {
	m := r[0]
	for _, v := range r[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Println(prompt)
	_, _ = in.ReadString('\n')
}
