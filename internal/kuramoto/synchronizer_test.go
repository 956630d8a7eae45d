package kuramoto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConservationAfterEveryStep(t *testing.T) {
	s := NewSynchronizer(4)
	for i := 0; i < 5000; i++ {
		s.Step(0.001)
		require.True(t, s.ConservationOK(), "step %d: r=%v", i, s.OrderParameter())
		r := s.OrderParameter()
		require.GreaterOrEqual(t, r, 0.0)
		require.LessOrEqual(t, r, 1.0)
		require.InDelta(t, 1.0, r+s.Lambda(), 1e-9)
	}
}

func TestDeterminism(t *testing.T) {
	runOnce := func() Status {
		s := NewSynchronizer(5)
		s.TrackZ(0.7)
		for i := 0; i < 1000; i++ {
			s.Step(0.001)
		}
		return s.Status()
	}
	assert.Equal(t, runOnce(), runOnce())
}

func TestPhasesStayWrapped(t *testing.T) {
	s := NewSynchronizer(10)
	for i := 0; i < 2000; i++ {
		s.Step(0.001)
	}
	for i, p := range s.Status().Phases {
		assert.GreaterOrEqual(t, p, 0.0, "oscillator %d", i)
		assert.Less(t, p, 2*math.Pi, "oscillator %d", i)
	}
}

func TestUniformCombStaysIncoherent(t *testing.T) {
	// The relaxation target is an evenly spaced comb, so a fresh network
	// must not drift into spurious coherence.
	s := NewSynchronizer(4)
	for i := 0; i < 3000; i++ {
		s.Step(0.001)
	}
	assert.Less(t, s.OrderParameter(), 0.2)
	assert.False(t, s.Status().Synchronized)
	assert.Zero(t, s.Status().SyncDuration)
}

func TestReferenceFreqForZ(t *testing.T) {
	assert.InDelta(t, 1.0, ReferenceFreqForZ(0), 1e-12)
	assert.InDelta(t, 10.0, ReferenceFreqForZ(1), 1e-12)
	assert.InDelta(t, 5.5, ReferenceFreqForZ(0.5), 1e-12)

	s := NewSynchronizer(2)
	s.TrackZ(0.5)
	assert.InDelta(t, 5.5, s.Status().ReferenceFreq, 1e-12)
}

func TestSetReferenceFrequencyRejectsOutOfRange(t *testing.T) {
	s := NewSynchronizer(3)
	s.SetReferenceFrequency(0)
	assert.Equal(t, 3.0, s.Status().ReferenceFreq)
	s.SetReferenceFrequency(-1)
	assert.Equal(t, 3.0, s.Status().ReferenceFreq)
	s.SetReferenceFrequency(1000)
	assert.Equal(t, 3.0, s.Status().ReferenceFreq)
	s.SetReferenceFrequency(42)
	assert.Equal(t, 42.0, s.Status().ReferenceFreq)
}

func TestCouplingAndModulationClamps(t *testing.T) {
	s := NewSynchronizer(2)
	s.SetCoupling(-1)
	assert.Zero(t, s.Status().Coupling)
	s.SetCoupling(2)
	assert.Equal(t, 1.0, s.Status().Coupling)

	s.SetModulation(0.1)
	assert.Equal(t, 0.5, s.Status().Modulation)
	s.SetModulation(5)
	assert.Equal(t, 2.0, s.Status().Modulation)
	s.SetModulation(1.2)
	assert.Equal(t, 1.2, s.Status().Modulation)

	// Effective coupling saturates at 1 even when modulated upward.
	s.SetCoupling(0.8)
	s.SetModulation(2)
	assert.Equal(t, 1.0, s.effectiveCoupling())
}

func TestCrossingThresholdValidation(t *testing.T) {
	s := NewSynchronizer(2)
	s.SetCrossingThresholds(0.5, 0.6) // high below low: ignored
	assert.Equal(t, DefaultCrossingHigh, s.crossingHigh)
	s.SetCrossingThresholds(1.5, 0.5) // above range: ignored
	assert.Equal(t, DefaultCrossingHigh, s.crossingHigh)
	s.SetCrossingThresholds(0.9, 0.8)
	assert.Equal(t, 0.9, s.crossingHigh)
	assert.Equal(t, 0.8, s.crossingLow)
}

func TestCrossingCounterIsDiagnosticOnly(t *testing.T) {
	s := NewSynchronizer(4)
	for i := 0; i < 2000; i++ {
		s.Step(0.001)
	}
	st := s.Status()
	// Whatever the counter reads, it must not feed the sync decision.
	assert.False(t, st.Synchronized)
	assert.GreaterOrEqual(t, st.CrossingCount, 0)
}

func TestStepIgnoresNonPositiveDt(t *testing.T) {
	s := NewSynchronizer(4)
	before := s.Status()
	s.Step(0)
	s.Step(-0.01)
	assert.Equal(t, before, s.Status())
}

func TestReset(t *testing.T) {
	s := NewSynchronizer(4)
	s.SetCoupling(0.7)
	for i := 0; i < 500; i++ {
		s.Step(0.001)
	}
	s.Reset()

	st := s.Status()
	assert.Zero(t, st.OrderParam)
	assert.Zero(t, st.CollectivePhase)
	assert.Zero(t, st.CrossingCount)
	assert.False(t, st.PLLLocked)
	assert.False(t, st.Synchronized)
	assert.Equal(t, 0.7, st.Coupling, "coupling survives reset")
	for i := 0; i < OscillatorCount; i++ {
		assert.InDelta(t, float64(i)*2*math.Pi/OscillatorCount, st.Phases[i], 1e-12)
	}
}

func TestSyncThresholdClamp(t *testing.T) {
	s := NewSynchronizer(2)
	s.SetSyncThreshold(0.1)
	assert.Equal(t, 0.5, s.syncThresh)
	s.SetSyncThreshold(1.5)
	assert.Equal(t, 1.0, s.syncThresh)
	s.SetSyncThreshold(0.95)
	assert.Equal(t, 0.95, s.syncThresh)
}
