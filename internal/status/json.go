package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Lit           int           `json:"lit"`
	Faulted       int           `json:"faulted"`
	Fireflies     []FireflyJSON `json:"fireflies"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// FireflyJSON is the JSON representation of one firefly.
type FireflyJSON struct {
	Label   string `json:"label"`
	Pin     int    `json:"pin"`
	State   string `json:"state"`
	Flashes int    `json:"flashes"`
	LastLit string `json:"last_lit,omitempty"`
	Faulted bool   `json:"faulted"`
	Fault   string `json:"fault,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	LightOn  int `json:"light_on"`
	LightOff int `json:"light_off"`
	Faults   int `json:"faults"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip            string `json:"chip"`
	LightMs         int64  `json:"light_ms"`
	MinDarkMs       int64  `json:"min_dark_ms"`
	MaxDarkMs       int64  `json:"max_dark_ms"`
	SweepIntervalMs int64  `json:"sweep_interval_ms"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	FaultPolicy     string `json:"fault_policy"`
	Seed            uint64 `json:"seed"`
	Broker          string `json:"broker"`
	HTTPAddr        string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	fireflies := make([]FireflyJSON, 0, len(snap.Fireflies))
	for _, f := range snap.Fireflies {
		fj := FireflyJSON{
			Label:   f.Label,
			Pin:     f.Pin,
			State:   string(f.State),
			Flashes: f.Flashes,
			Faulted: f.Faulted,
			Fault:   f.Fault,
		}
		if !f.LastLit.IsZero() {
			fj.LastLit = f.LastLit.UTC().Format(time.RFC3339)
		}
		fireflies = append(fireflies, fj)
	}

	return StatusInner{
		Lit:           snap.Lit(),
		Faulted:       snap.Faulted(),
		Fireflies:     fireflies,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			LightOn:  snap.Counts.LightOn,
			LightOff: snap.Counts.LightOff,
			Faults:   snap.Counts.Faults,
		},
		Config: ConfigJSON{
			Chip:            snap.Config.Chip,
			LightMs:         snap.Config.LightMs,
			MinDarkMs:       snap.Config.MinDarkMs,
			MaxDarkMs:       snap.Config.MaxDarkMs,
			SweepIntervalMs: snap.Config.SweepIntervalMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			FaultPolicy:     snap.Config.FaultPolicy,
			Seed:            snap.Config.Seed,
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
