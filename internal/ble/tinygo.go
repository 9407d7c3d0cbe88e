package ble

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoRadio implements Radio on tinygo-org/bluetooth. tinygo's calls
// block, so each link operation runs on its own goroutine and reports back
// through GattEvents, the way a platform stack delivers callbacks.
//
// On macOS, device addresses are CoreBluetooth UUIDs rather than MAC
// addresses; the Address strings carry whichever form the OS uses.
type TinyGoRadio struct {
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	links       map[string]*tinyGoLink // keyed by device address
	scanning    bool
	stopPending bool
}

// NewTinyGoRadio creates a radio on the default adapter.
func NewTinyGoRadio() *TinyGoRadio {
	return &TinyGoRadio{
		adapter: bluetooth.DefaultAdapter,
		links:   make(map[string]*tinyGoLink),
	}
}

func (r *TinyGoRadio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return err
	}

	// tinygo reports peripheral-initiated disconnects only through the
	// adapter-level handler.
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		r.mu.Lock()
		link, ok := r.links[device.Address.String()]
		r.mu.Unlock()
		if ok {
			link.lost()
		}
	})
	return nil
}

func (r *TinyGoRadio) Scan(onResult func(Advertisement)) error {
	r.mu.Lock()
	if r.stopPending {
		r.stopPending = false
		r.mu.Unlock()
		return nil
	}
	r.scanning = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.scanning = false
		r.mu.Unlock()
	}()

	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		onResult(Advertisement{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		})
	})
}

func (r *TinyGoRadio) StopScan() error {
	r.mu.Lock()
	if !r.scanning {
		// Stop raced ahead of Scan; make the next Scan return at once.
		r.stopPending = true
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.adapter.StopScan()
}

func (r *TinyGoRadio) Connect(address string, events GattEvents) (Link, error) {
	var addr bluetooth.Address
	addr.Set(address)

	link := &tinyGoLink{radio: r, address: address, events: events}
	r.mu.Lock()
	if _, busy := r.links[address]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("ble: link to %s already open", address)
	}
	r.links[address] = link
	r.mu.Unlock()

	go func() {
		device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			link.deliver(func(ev GattEvents) { ev.OnConnectionStateChange(StatusFailure, false) })
			return
		}

		link.mu.Lock()
		if link.closed {
			// Controller gave up waiting; drop the late connection.
			link.mu.Unlock()
			_ = device.Disconnect()
			return
		}
		link.device = &device
		link.mu.Unlock()

		link.deliver(func(ev GattEvents) { ev.OnConnectionStateChange(StatusSuccess, true) })
	}()
	return link, nil
}

// Compile-time check that TinyGoRadio implements Radio.
var _ Radio = (*TinyGoRadio)(nil)

var errNoDevice = errors.New("ble: link not connected")

type tinyGoLink struct {
	radio   *TinyGoRadio
	address string
	events  GattEvents

	mu     sync.Mutex
	device *bluetooth.Device
	closed bool
}

// deliver invokes fn unless the link has been closed.
func (l *tinyGoLink) deliver(fn func(GattEvents)) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if !closed {
		fn(l.events)
	}
}

func (l *tinyGoLink) lost() {
	l.deliver(func(ev GattEvents) { ev.OnConnectionStateChange(StatusSuccess, false) })
}

func (l *tinyGoLink) connected() (*bluetooth.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.device == nil || l.closed {
		return nil, errNoDevice
	}
	return l.device, nil
}

func (l *tinyGoLink) DiscoverServices() error {
	device, err := l.connected()
	if err != nil {
		return err
	}

	go func() {
		svcs, err := device.DiscoverServices(nil)
		if err != nil {
			l.deliver(func(ev GattEvents) { ev.OnServicesDiscovered(nil, StatusFailure) })
			return
		}

		services := make([]Service, 0, len(svcs))
		for i := range svcs {
			chars, err := svcs[i].DiscoverCharacteristics(nil)
			if err != nil {
				l.deliver(func(ev GattEvents) { ev.OnServicesDiscovered(nil, StatusFailure) })
				return
			}
			svc := Service{
				UUID:            NormalizeUUID(svcs[i].UUID().String()),
				Characteristics: make(map[string]Characteristic, len(chars)),
			}
			for j := range chars {
				c := &tinyGoCharacteristic{char: chars[j]}
				svc.Characteristics[c.UUID()] = c
			}
			services = append(services, svc)
		}
		l.deliver(func(ev GattEvents) { ev.OnServicesDiscovered(services, StatusSuccess) })
	}()
	return nil
}

func (l *tinyGoLink) WriteCharacteristic(c Characteristic, data []byte) error {
	if _, err := l.connected(); err != nil {
		return err
	}
	tc, ok := c.(*tinyGoCharacteristic)
	if !ok {
		return fmt.Errorf("ble: characteristic %s does not belong to this radio", c.UUID())
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	go func() {
		// Write-with-response exists only on darwin and windows; every
		// backend has WriteWithoutResponse, which returns once the stack
		// has taken the packet.
		status := StatusSuccess
		if _, err := tc.char.WriteWithoutResponse(buf); err != nil {
			status = StatusFailure
		}
		l.deliver(func(ev GattEvents) { ev.OnCharacteristicWrite(tc.UUID(), status) })
	}()
	return nil
}

func (l *tinyGoLink) Disconnect() error {
	device, err := l.connected()
	if err != nil {
		return nil
	}
	return device.Disconnect()
}

func (l *tinyGoLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.radio.mu.Lock()
	if l.radio.links[l.address] == l {
		delete(l.radio.links, l.address)
	}
	l.radio.mu.Unlock()
	return nil
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() string {
	return NormalizeUUID(c.char.UUID().String())
}
