package model

import (
	"encoding/json"
	"time"
)

// EventType enumerates the recognized event types from spec.md §3.
type EventType string

const (
	EventFastEvent   EventType = "fast_event"
	EventScanResult  EventType = "scan_result"
	EventScanError   EventType = "scan_error"
	EventSignature   EventType = "signature_hit"
	EventWatchStart  EventType = "watch_started"
	EventWatchStop   EventType = "watch_stopped"
)

// Event is a persisted, fan-outable notification.
type Event struct {
	ID       int64           `json:"id,omitempty"`
	TS       float64         `json:"ts"`
	Type     EventType       `json:"type"`
	Path     string          `json:"path,omitempty"`
	Severity string          `json:"severity,omitempty"`
	Action   string          `json:"action,omitempty"`
	Source   string          `json:"source,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NowTS returns the current time as the fractional-seconds-since-epoch
// value Event.TS expects.
func NowTS() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Device is the upserted endpoint-agent registry row.
type Device struct {
	ID       string          `json:"id"`
	Hostname string          `json:"hostname"`
	OS       string          `json:"os"`
	Arch     string          `json:"arch"`
	Version  string          `json:"version"`
	LastSeen time.Time       `json:"last_seen"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// SignatureRecord is an offline signature DB row (§3, §4.7).
type SignatureRecord struct {
	SHA256    string          `json:"sha256,omitempty"`
	MD5       string          `json:"md5,omitempty"`
	Family    string          `json:"family,omitempty"`
	Type      string          `json:"type"`
	Severity  Severity        `json:"severity"`
	Source    string          `json:"source"`
	FirstSeen time.Time       `json:"first_seen"`
	LastSeen  time.Time       `json:"last_seen"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}
