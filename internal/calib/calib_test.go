package calib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
	"github.com/hexgrid-labs/field_computer/internal/magref"
)

func sampleBaselines() []uint16 {
	b := make([]uint16, hexgrid.ChannelCount)
	for i := range b {
		b[i] = uint16(500 + i)
	}
	return b
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mag := magref.Calibration{
		OffsetX: 100, OffsetY: -50, OffsetZ: 10,
		ScaleX: 900, ScaleY: 1100, ScaleZ: 1000,
		DeclinationDeg: 2.5,
		Calibrated:     true,
	}
	f := New(sampleBaselines(), 64, mag, 200)

	path, err := Save(dir, f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, Filename), path)

	got, err := Load(dir)
	require.NoError(t, err)

	baselines, ok := got.Baselines()
	require.True(t, ok)
	assert.Equal(t, uint16(500), baselines[0])
	assert.Equal(t, uint16(500+hexgrid.ChannelCount-1), baselines[hexgrid.ChannelCount-1])

	gotMag, ok := got.MagCalibration()
	require.True(t, ok)
	assert.Equal(t, mag, gotMag)
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "calibration")
	_, err := Save(dir, New(sampleBaselines(), 10, magref.Calibration{}, 0))
	require.NoError(t, err)
	_, err = Load(dir)
	assert.NoError(t, err)
}

func TestGridOnlyFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Save(dir, New(sampleBaselines(), 32, magref.Calibration{}, 0))
	require.NoError(t, err)

	got, err := Load(dir)
	require.NoError(t, err)
	_, ok := got.Baselines()
	assert.True(t, ok)
	_, ok = got.MagCalibration()
	assert.False(t, ok, "no mag section saved")
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename),
		[]byte(`{"version": 99}`), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsTruncatedBaselines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename),
		[]byte(`{"version": 1, "grid_baselines": [1, 2, 3]}`), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename),
		[]byte("not json"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestImplausibleMagScalesDropped(t *testing.T) {
	dir := t.TempDir()
	mag := magref.Calibration{ScaleX: 5, ScaleY: 1000, ScaleZ: 1000, Calibrated: true}
	_, err := Save(dir, New(nil, 0, mag, 50))
	require.NoError(t, err)

	got, err := Load(dir)
	require.NoError(t, err)
	_, ok := got.MagCalibration()
	assert.False(t, ok)
}
