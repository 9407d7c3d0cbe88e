// Package ble provides the BLE core for driving an ESP32 lamp: a scanner
// that finds the lamp by advertised name, a connection controller that owns
// the single GATT connection, and a dispatcher that serializes
// characteristic writes against it.
package ble

import (
	"strings"

	"github.com/google/uuid"
)

// Lamp identifiers advertised by the ESP32 firmware.
const (
	DeviceName         = "ESP_LAMP"
	ServiceUUID        = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	CharacteristicUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

// GATT status codes delivered with radio callbacks.
const (
	StatusSuccess = 0
	StatusFailure = 0x101
)

// Advertisement is a single advertising report seen during a scan.
type Advertisement struct {
	Name    string
	Address string
	RSSI    int
}

// Characteristic is a radio-specific handle for a discovered characteristic.
type Characteristic interface {
	UUID() string
}

// Service is a discovered GATT service.
type Service struct {
	UUID            string
	Characteristics map[string]Characteristic // keyed by normalized UUID
}

// GattEvents receives asynchronous completions from a Link. Radios call
// these from their own goroutines.
type GattEvents interface {
	OnConnectionStateChange(status int, connected bool)
	OnServicesDiscovered(services []Service, status int)
	OnCharacteristicWrite(uuid string, status int)
}

// Link is one GATT connection acquired from a Radio. Every method only
// starts the operation; the outcome arrives through GattEvents.
type Link interface {
	// DiscoverServices starts service discovery.
	DiscoverServices() error
	// WriteCharacteristic starts a write with response.
	WriteCharacteristic(c Characteristic, data []byte) error
	// Disconnect asks the peripheral to drop the connection.
	Disconnect() error
	// Close releases the link. No callbacks are delivered after Close.
	Close() error
}

// Radio abstracts the BLE hardware adapter for testing.
type Radio interface {
	// Enable powers on the adapter.
	Enable() error
	// Scan reports advertisements to onResult until StopScan is called or
	// the radio fails. It blocks for the whole session.
	Scan(onResult func(Advertisement)) error
	// StopScan ends the active scan session, if any.
	StopScan() error
	// Connect starts connecting to address and returns the link that will
	// carry the result.
	Connect(address string, events GattEvents) (Link, error)
}

// NormalizeUUID returns the canonical lowercase form of id so lookups do
// not depend on how the firmware or the config spells it. Strings that do
// not parse as UUIDs are only trimmed and lowercased.
func NormalizeUUID(id string) string {
	if u, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
		return u.String()
	}
	return strings.ToLower(strings.TrimSpace(id))
}
