package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/hexgrid-labs/field_computer/internal/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// webState mirrors the latest message per topic.
type webState struct {
	mu sync.RWMutex

	field         FieldMsg
	haveField     bool
	phase         PhaseMsg
	havePhase     bool
	triad         TriadMsg
	haveTriad     bool
	network       NetworkMsg
	haveNetwork   bool
	formation     FormationMsg
	haveFormation bool
	health        HealthMsg
	haveHealth    bool
}

// StateResponse is the /api/state payload and the websocket push frame.
type StateResponse struct {
	Field     *FieldMsg     `json:"field,omitempty"`
	Phase     *PhaseMsg     `json:"phase,omitempty"`
	Triad     *TriadMsg     `json:"triad,omitempty"`
	Network   *NetworkMsg   `json:"network,omitempty"`
	Formation *FormationMsg `json:"formation,omitempty"`
	Health    *HealthMsg    `json:"health,omitempty"`
}

func (s *webState) snapshot() StateResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var resp StateResponse
	if s.haveField {
		f := s.field
		resp.Field = &f
	}
	if s.havePhase {
		p := s.phase
		resp.Phase = &p
	}
	if s.haveTriad {
		t := s.triad
		resp.Triad = &t
	}
	if s.haveNetwork {
		n := s.network
		resp.Network = &n
	}
	if s.haveFormation {
		f := s.formation
		resp.Formation = &f
	}
	if s.haveHealth {
		h := s.health
		resp.Health = &h
	}
	return resp
}

func RunWeb() error {
	cfg := config.Get()
	state := &webState{}

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Mirror every topic into the shared state
	subscribe := func(topic string, handler mqtt.MessageHandler) error {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("web: subscribed to %s", topic)
		return nil
	}

	type mirror struct {
		topic  string
		update func([]byte) error
	}
	mirrors := []mirror{
		{cfg.TopicField, func(b []byte) error {
			var m FieldMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return err
			}
			state.mu.Lock()
			state.field, state.haveField = m, true
			state.mu.Unlock()
			return nil
		}},
		{cfg.TopicPhase, func(b []byte) error {
			var m PhaseMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return err
			}
			state.mu.Lock()
			state.phase, state.havePhase = m, true
			state.mu.Unlock()
			return nil
		}},
		{cfg.TopicTriad, func(b []byte) error {
			var m TriadMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return err
			}
			state.mu.Lock()
			state.triad, state.haveTriad = m, true
			state.mu.Unlock()
			return nil
		}},
		{cfg.TopicNetwork, func(b []byte) error {
			var m NetworkMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return err
			}
			state.mu.Lock()
			state.network, state.haveNetwork = m, true
			state.mu.Unlock()
			return nil
		}},
		{cfg.TopicFormation, func(b []byte) error {
			var m FormationMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return err
			}
			state.mu.Lock()
			state.formation, state.haveFormation = m, true
			state.mu.Unlock()
			return nil
		}},
		{cfg.TopicHealth, func(b []byte) error {
			var m HealthMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return err
			}
			state.mu.Lock()
			state.health, state.haveHealth = m, true
			state.mu.Unlock()
			return nil
		}},
	}
	for _, m := range mirrors {
		update := m.update
		topic := m.topic
		if err := subscribe(topic, func(_ mqtt.Client, msg mqtt.Message) {
			if err := update(msg.Payload()); err != nil {
				log.Printf("web: %s unmarshal error: %v", topic, err)
			}
		}); err != nil {
			return err
		}
	}

	// 3) JSON API endpoint: latest state across all topics
	http.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		resp := state.snapshot()
		if resp.Field == nil && resp.Phase == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// 4) Websocket push: the full state at the display cadence
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("web: websocket client connected from %s", r.RemoteAddr)

		ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			if err := conn.WriteJSON(state.snapshot()); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	})

	// 5) Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
