package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingEvents counts callbacks delivered by a tinygo link.
type recordingEvents struct {
	writes int
}

func (e *recordingEvents) OnConnectionStateChange(int, bool) {}
func (e *recordingEvents) OnServicesDiscovered([]Service, int) {}
func (e *recordingEvents) OnCharacteristicWrite(string, int) { e.writes++ }

func TestTinyGoLinkRejectsWriteWithoutDevice(t *testing.T) {
	radio := NewTinyGoRadio()
	link := &tinyGoLink{radio: radio, address: testLamp.Address, events: &recordingEvents{}}

	err := link.WriteCharacteristic(&tinyGoCharacteristic{}, []byte{0x01})
	assert.ErrorIs(t, err, errNoDevice)
	assert.ErrorIs(t, link.DiscoverServices(), errNoDevice)
	assert.NoError(t, link.Disconnect(), "disconnect without a device is a no-op")
}

func TestTinyGoLinkDropsCallbacksAfterClose(t *testing.T) {
	radio := NewTinyGoRadio()
	events := &recordingEvents{}
	link := &tinyGoLink{radio: radio, address: testLamp.Address, events: events}
	radio.links[link.address] = link

	link.deliver(func(ev GattEvents) { ev.OnCharacteristicWrite(CharacteristicUUID, StatusSuccess) })
	assert.Equal(t, 1, events.writes)

	assert.NoError(t, link.Close())
	link.deliver(func(ev GattEvents) { ev.OnCharacteristicWrite(CharacteristicUUID, StatusSuccess) })
	assert.Equal(t, 1, events.writes, "closed link must not deliver")
	assert.NotContains(t, radio.links, testLamp.Address)
}

func TestTinyGoStopBeforeScanSkipsNextScan(t *testing.T) {
	radio := NewTinyGoRadio()

	assert.NoError(t, radio.StopScan())
	assert.NoError(t, radio.Scan(func(Advertisement) { t.Error("no advertisement expected") }))
	assert.False(t, radio.stopPending, "pending stop is consumed by one Scan")
}
