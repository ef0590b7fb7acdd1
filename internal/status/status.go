// Package status provides a thread-safe status tracker for the fireflies daemon.
// It is fed from the event bus and read by HTTP handlers and MQTT heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/fireflies/internal/logic"
)

// NetworkInfo contains network state as written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Chip            string
	LightMs         int64
	MinDarkMs       int64
	MaxDarkMs       int64
	SweepIntervalMs int64
	HeartbeatMs     int64
	FaultPolicy     string
	Seed            uint64
	Broker          string
	HTTPAddr        string
}

// Firefly is the last known state of one firefly.
type Firefly struct {
	Label   string
	Pin     int
	State   logic.State
	Flashes int
	LastLit time.Time
	Faulted bool
	Fault   string
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	LightOn  int
	LightOff int
	Faults   int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Fireflies     []Firefly
	Counts        EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Lit returns how many fireflies are currently lit.
func (s Snapshot) Lit() int {
	n := 0
	for _, f := range s.Fireflies {
		if f.State == logic.StateLit {
			n++
		}
	}
	return n
}

// Faulted returns how many fireflies have been retired after a fault.
func (s Snapshot) Faulted() int {
	n := 0
	for _, f := range s.Fireflies {
		if f.Faulted {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	byLabel map[string]int
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		byLabel: make(map[string]int),
	}
}

// Register adds a dark firefly. Call once per firefly before events arrive.
func (t *Tracker) Register(label string, pin int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byLabel[label]; ok {
		return
	}
	t.byLabel[label] = len(t.snap.Fireflies)
	t.snap.Fireflies = append(t.snap.Fireflies, Firefly{
		Label: label,
		Pin:   pin,
		State: logic.StateDark,
	})
}

// Apply records a firefly event. Events for unregistered labels are ignored.
func (t *Tracker) Apply(ev logic.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.byLabel[ev.Label]
	if !ok {
		return
	}
	f := &t.snap.Fireflies[i]
	f.State = ev.State
	f.Flashes = ev.Flashes

	switch ev.Type {
	case logic.EventLightOn:
		f.LastLit = ev.Timestamp
		t.snap.Counts.LightOn++
	case logic.EventLightOff:
		t.snap.Counts.LightOff++
	case logic.EventFault:
		f.Faulted = true
		f.Fault = ev.Err
		t.snap.Counts.Faults++
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Fireflies = append([]Firefly(nil), t.snap.Fireflies...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
