// Package calib persists device calibration as a JSON file: the hex grid
// channel baselines and the magnetometer hard/soft iron corrections.
// Callers hand in opaque bytes on disk and get validated structs back.
package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/magref"
)

// Version is bumped when the file layout changes incompatibly.
const Version = 1

// Filename is the fixed name the device loads at startup.
const Filename = "field_calibration.json"

// File is the on-disk calibration layout. Stored values are in raw counts;
// applying them later requires consistent units.
type File struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// Hex grid
	GridBaselines   []uint16 `json:"grid_baselines"`
	GridSampleCount int      `json:"grid_sample_count"`

	// Magnetometer (min/max ellipsoid approximation: offset + diagonal scale)
	MagCalibrated     bool    `json:"mag_calibrated"`
	MagOffsetX        int16   `json:"mag_offset_x"`
	MagOffsetY        int16   `json:"mag_offset_y"`
	MagOffsetZ        int16   `json:"mag_offset_z"`
	MagScaleX         int16   `json:"mag_scale_x"`
	MagScaleY         int16   `json:"mag_scale_y"`
	MagScaleZ         int16   `json:"mag_scale_z"`
	MagDeclinationDeg float64 `json:"mag_declination_deg"`
	MagSampleCount    int     `json:"mag_sample_count"`
}

// New assembles a File from calibration results. Either part may be absent:
// a nil-length baseline slice or an uncalibrated mag section simply stays
// empty.
func New(baselines []uint16, gridSamples int, mag magref.Calibration, magSamples int) File {
	f := File{
		Version:         Version,
		Timestamp:       time.Now().UTC(),
		GridBaselines:   baselines,
		GridSampleCount: gridSamples,
	}
	if mag.Calibrated {
		f.MagCalibrated = true
		f.MagOffsetX = mag.OffsetX
		f.MagOffsetY = mag.OffsetY
		f.MagOffsetZ = mag.OffsetZ
		f.MagScaleX = mag.ScaleX
		f.MagScaleY = mag.ScaleY
		f.MagScaleZ = mag.ScaleZ
		f.MagDeclinationDeg = mag.DeclinationDeg
		f.MagSampleCount = magSamples
	}
	return f
}

// Baselines returns the grid baselines as a frame, if present and complete.
func (f File) Baselines() (hexgrid.RawFrame, bool) {
	var frame hexgrid.RawFrame
	if len(f.GridBaselines) != hexgrid.ChannelCount {
		return frame, false
	}
	copy(frame[:], f.GridBaselines)
	return frame, true
}

// MagCalibration returns the magnetometer section as a magref calibration,
// if present and plausible.
func (f File) MagCalibration() (magref.Calibration, bool) {
	if !f.MagCalibrated {
		return magref.Calibration{}, false
	}
	cal := magref.Calibration{
		OffsetX: f.MagOffsetX, OffsetY: f.MagOffsetY, OffsetZ: f.MagOffsetZ,
		ScaleX: f.MagScaleX, ScaleY: f.MagScaleY, ScaleZ: f.MagScaleZ,
		DeclinationDeg: f.MagDeclinationDeg,
		Calibrated:     true,
	}
	if !cal.Valid() {
		return magref.Calibration{}, false
	}
	return cal, true
}

// validate rejects files we cannot safely apply.
func (f File) validate() error {
	if f.Version != Version {
		return fmt.Errorf("calibration file version %d, want %d", f.Version, Version)
	}
	if n := len(f.GridBaselines); n != 0 && n != hexgrid.ChannelCount {
		return fmt.Errorf("calibration file has %d grid baselines, want %d", n, hexgrid.ChannelCount)
	}
	return nil
}

// Save writes the file under dir, creating the directory if needed, and
// returns the full path.
func Save(dir string, f File) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create calibration dir: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal calibration: %w", err)
	}
	path := filepath.Join(dir, Filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write calibration file: %w", err)
	}
	return path, nil
}

// Load reads and validates the calibration file under dir.
func Load(dir string) (File, error) {
	path := filepath.Join(dir, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read calibration file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("failed to parse calibration file %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return File{}, err
	}
	return f, nil
}
