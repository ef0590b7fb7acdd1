// Package mqtt publishes firefly telemetry and daemon lifecycle events to an
// MQTT broker. Publishing is best effort: failures are returned to the caller
// for logging and never affect the LEDs.
package mqtt

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sweeney/fireflies/internal/logic"
)

// Topic carries LIGHT_ON, LIGHT_OFF and FAULT events.
const Topic = "garden/fireflies/events"

// TopicSystem carries STARTUP, SHUTDOWN, HEARTBEAT and RECONNECTED.
const TopicSystem = "garden/fireflies/system"

// ErrBuffered is returned when the broker is offline and the message was
// queued for replay on reconnect instead of sent. Queued messages are lost if
// the publisher is closed first.
var ErrBuffered = errors.New("mqtt: broker offline, message buffered")

// Publisher sends events to the broker.
type Publisher interface {
	Publish(event logic.Event) error
	PublishSystem(event SystemEvent) error
	Close() error
}

// ConnectionStatus is implemented by publishers that know their link state.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a daemon lifecycle message.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // SHUTDOWN only: SIGINT, SIGTERM, FAULT, CANCELLED, MQTT_DISCONNECT
	RawPayload []byte // full status snapshot; sent as is when set
	Retained   bool
}

// Payload is the JSON body published on Topic.
type Payload struct {
	Firefly FireflyPayload `json:"firefly"`
}

// FireflyPayload describes one transition or fault.
type FireflyPayload struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	Label       string `json:"label"`
	State       string `json:"state"`
	Flashes     int    `json:"flashes"`
	NextDelayMs int64  `json:"next_delay_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

// FormatPayload encodes event for Topic. Timestamps are UTC with sub-second
// precision since flashes are half a second long.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Firefly: FireflyPayload{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339Nano),
			Event:       string(event.Type),
			Label:       event.Label,
			State:       string(event.State),
			Flashes:     event.Flashes,
			NextDelayMs: event.NextDelay.Milliseconds(),
			Error:       event.Err,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the body of lifecycle events that carry no status
// snapshot (the last will and RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner holds the lifecycle event fields.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload encodes event for TopicSystem, preferring RawPayload.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
