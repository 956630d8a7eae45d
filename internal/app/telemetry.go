package app

import (
	"time"

	"github.com/hexgrid-labs/field_computer/internal/core"
	"github.com/hexgrid-labs/field_computer/internal/env"
	"github.com/hexgrid-labs/field_computer/internal/hexgrid"
)

// Wire messages for the MQTT topics. Every consumer (console, web, display)
// unmarshals these same structs.

type FieldMsg struct {
	Z           float64                       `json:"z"`
	Theta       float64                       `json:"theta"`
	R           float64                       `json:"r"`
	TotalEnergy float64                       `json:"total_energy"`
	ActiveCount int                           `json:"active_count"`
	ActiveMask  uint32                        `json:"active_mask"`
	CentroidX   float64                       `json:"centroid_x"`
	CentroidY   float64                       `json:"centroid_y"`
	Normalized  [hexgrid.ChannelCount]float64 `json:"normalized"`
	Timestamp   int64                         `json:"timestamp_ms"`
}

type PhaseMsg struct {
	Phase     string  `json:"phase"`
	Tier      int     `json:"tier"`
	Z         float64 `json:"z"`
	ZSmoothed float64 `json:"z_smoothed"`
	ZVelocity float64 `json:"z_velocity"`
	Stable    bool    `json:"stable"`
}

type TriadMsg struct {
	State         string  `json:"state"`
	CrossingCount int     `json:"crossing_count"`
	Unlocked      bool    `json:"unlocked"`
	Value         float64 `json:"value"`
	LastEvent     string  `json:"last_event"`
}

type NetworkMsg struct {
	OrderParam      float64 `json:"order_param"`
	Lambda          float64 `json:"lambda"`
	CollectivePhase float64 `json:"collective_phase"`
	ReferenceFreq   float64 `json:"reference_freq_hz"`
	PhaseError      float64 `json:"phase_error"`
	PLLLocked       bool    `json:"pll_locked"`
	Synchronized    bool    `json:"synchronized"`
	SyncSeconds     float64 `json:"sync_seconds"`
	Modulation      float64 `json:"modulation"`
}

type FormationMsg struct {
	Kappa           float64 `json:"kappa"`
	Eta             float64 `json:"eta"`
	Resonance       int     `json:"resonance"`
	Active          bool    `json:"active"`
	TotalFormations int     `json:"total_formations"`
	PeakKappa       float64 `json:"peak_kappa"`
	PeakEta         float64 `json:"peak_eta"`
}

type HealthMsg struct {
	Initialized   bool    `json:"initialized"`
	Fresh         bool    `json:"fresh"`
	MagHealthy    bool    `json:"mag_healthy"`
	Violations    int     `json:"violations"`
	EmergencyStop bool    `json:"emergency_stop"`
	UpdateRateHz  float64 `json:"update_rate_hz"`

	// Board environment, when a BMP280 is fitted.
	Env *env.Sample `json:"env,omitempty"`
}

type EventMsg struct {
	Kind      string  `json:"kind"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp_ms"`
}

func fieldMsg(c *core.Core) FieldMsg {
	f := c.Frame()
	return FieldMsg{
		Z:           f.Z,
		Theta:       f.Theta,
		R:           f.R,
		TotalEnergy: f.TotalEnergy,
		ActiveCount: f.ActiveCount,
		ActiveMask:  f.ActiveMask,
		CentroidX:   f.CentroidX,
		CentroidY:   f.CentroidY,
		Normalized:  f.Readings,
		Timestamp:   f.Time.UnixMilli(),
	}
}

func phaseMsg(c *core.Core) PhaseMsg {
	s := c.Phase()
	return PhaseMsg{
		Phase:     s.Current.String(),
		Tier:      s.Tier,
		Z:         s.Z,
		ZSmoothed: s.ZSmoothed,
		ZVelocity: s.ZVelocity,
		Stable:    s.Stable,
	}
}

func triadMsg(c *core.Core) TriadMsg {
	s := c.Triad()
	return TriadMsg{
		State:         s.State.String(),
		CrossingCount: s.CrossingCount,
		Unlocked:      s.IsUnlocked,
		Value:         s.CurrentValue,
		LastEvent:     s.LastEvent.String(),
	}
}

func networkMsg(c *core.Core) NetworkMsg {
	s := c.Network()
	return NetworkMsg{
		OrderParam:      s.OrderParam,
		Lambda:          1 - s.OrderParam,
		CollectivePhase: s.CollectivePhase,
		ReferenceFreq:   s.ReferenceFreq,
		PhaseError:      s.PhaseError,
		PLLLocked:       s.PLLLocked,
		Synchronized:    s.Synchronized,
		SyncSeconds:     s.SyncDuration.Seconds(),
		Modulation:      s.Modulation,
	}
}

func formationMsg(c *core.Core) FormationMsg {
	s := c.Formation()
	return FormationMsg{
		Kappa:           s.Current.Kappa,
		Eta:             s.Current.Eta,
		Resonance:       s.Current.R,
		Active:          s.Active,
		TotalFormations: s.TotalFormations,
		PeakKappa:       s.PeakKappa,
		PeakEta:         s.PeakEta,
	}
}

func healthMsg(c *core.Core, now time.Time) HealthMsg {
	h := c.Health(now)
	return HealthMsg{
		Initialized:   h.Initialized,
		Fresh:         h.Fresh,
		MagHealthy:    h.MagHealthy,
		Violations:    h.Violations,
		EmergencyStop: h.EmergencyStop,
		UpdateRateHz:  h.UpdateRateHz,
	}
}

func eventMsg(ev core.Event) EventMsg {
	return EventMsg{
		Kind:      ev.Kind.String(),
		Z:         ev.Z,
		Timestamp: ev.Time.UnixMilli(),
	}
}
