package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/qstra/lampctl/internal/ble/protocol"
)

// Options configures the Controller.
type Options struct {
	DeviceName         string        // advertised name to scan for
	ServiceUUID        string        // lamp service
	CharacteristicUUID string        // lamp on/off characteristic
	ScanTimeout        time.Duration // 0 scans until stopped
	ConnectTimeout     time.Duration // 0 waits for the radio forever
	WriteTimeout       time.Duration // 0 waits for the radio forever
	AutoConnect        bool          // connect to the first scan match
	Logger             *slog.Logger
}

// DefaultOptions returns the lamp identifiers and production timeouts.
func DefaultOptions() Options {
	return Options{
		DeviceName:         DeviceName,
		ServiceUUID:        ServiceUUID,
		CharacteristicUUID: CharacteristicUUID,
		ScanTimeout:        50 * time.Second,
		ConnectTimeout:     10 * time.Second,
		WriteTimeout:       5 * time.Second,
		AutoConnect:        true,
	}
}

// requestQueueSize bounds callbacks and requests waiting for the loop.
const requestQueueSize = 64

// Controller owns the single connection to the lamp. All state lives on one
// loop goroutine; radio callbacks, timers and caller requests are posted to
// it, so a callback and a Submit never race.
type Controller struct {
	radio   Radio
	opts    Options
	log     *slog.Logger
	scanner *Scanner

	requests  chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	snapMu   sync.RWMutex
	snapshot snapshot

	// Owned by the loop goroutine.
	state       State
	unavailable error
	peripheral  *Peripheral
	link        Link
	gen         uint64 // bumped whenever a link is acquired or released
	scanGen     uint64
	services    map[string]Service
	connTimer   *time.Timer
	dispatcher  *dispatcher
	subs        map[int]chan Event
	nextSub     int
}

type snapshot struct {
	state      State
	peripheral *Peripheral
	services   []Service
	queued     int
}

// NewController enables the radio and starts the controller loop. When the
// adapter cannot be enabled the controller stays in StateUnavailable and
// every operation fails with ErrUnavailable.
func NewController(radio Radio, opts Options) *Controller {
	if radio == nil {
		panic("ble: NewController called with nil radio")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		radio:    radio,
		opts:     opts,
		log:      opts.Logger,
		scanner:  NewScanner(radio, opts.Logger),
		requests: make(chan func(), requestQueueSize),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		subs:     make(map[int]chan Event),
	}
	c.dispatcher = newDispatcher(c.log, opts.WriteTimeout, c.post)
	c.dispatcher.finished = c.writeFinished
	c.dispatcher.stalled = c.writeStalled

	if err := radio.Enable(); err != nil {
		c.unavailable = fmt.Errorf("%w: %w", ErrUnavailable, err)
		c.state = StateUnavailable
		c.log.Error("[BLE] adapter unavailable", "error", err)
	}
	c.updateSnapshot()

	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.requests:
			fn()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

// post queues fn on the loop without waiting. Dropped after Close.
func (c *Controller) post(fn func()) {
	select {
	case c.requests <- fn:
	case <-c.quit:
	}
}

// call runs fn on the loop and returns its result.
func (c *Controller) call(fn func() error) error {
	var err error
	done := make(chan struct{})
	select {
	case c.requests <- func() { err = fn(); close(done) }:
	case <-c.quit:
		return ErrClosed
	}
	select {
	case <-done:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot.state
}

// Peripheral returns the peripheral last matched or connected, if any.
func (c *Controller) Peripheral() *Peripheral {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	if c.snapshot.peripheral == nil {
		return nil
	}
	p := *c.snapshot.peripheral
	return &p
}

// Services returns a copy of the services discovered on the current
// connection.
func (c *Controller) Services() []Service {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	out := make([]Service, len(c.snapshot.services))
	for i, svc := range c.snapshot.services {
		svc.Characteristics = maps.Clone(svc.Characteristics)
		out[i] = svc
	}
	return out
}

// QueueLen returns the number of writes queued or in flight.
func (c *Controller) QueueLen() int {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot.queued
}

// Subscribe returns a channel receiving every Event published after the
// call. Publishing never blocks: when the buffer is full the event is
// dropped for that subscriber. The channel is closed by cancel or Close.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	var id int
	err := c.call(func() error {
		id = c.nextSub
		c.nextSub++
		c.subs[id] = ch
		return nil
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = c.call(func() error {
				if sub, ok := c.subs[id]; ok {
					delete(c.subs, id)
					close(sub)
				}
				return nil
			})
		})
	}
	return ch, cancel
}

// StartScan scans for the configured device name. A match is published as
// EventPeripheralFound and, with AutoConnect, connected to right away.
func (c *Controller) StartScan(ctx context.Context) error {
	return c.call(func() error { return c.startScan(ctx) })
}

// StopScan ends an active scan and returns to Idle. It is idempotent.
func (c *Controller) StopScan() error {
	return c.call(func() error {
		if c.state == StateScanning {
			c.scanGen++
			c.scanner.Stop()
			c.setState(StateIdle, nil)
		}
		return nil
	})
}

// Connect starts connecting to p. It fails with ErrBusy while another
// connection is Connecting or Connected.
func (c *Controller) Connect(p Peripheral) error {
	return c.call(func() error { return c.connect(&p) })
}

// Disconnect drops the active connection and returns to Idle. Queued writes
// fail with ErrDisconnected. It is safe to call with no connection.
func (c *Controller) Disconnect() error {
	err := c.call(func() error {
		c.disconnect()
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Close disconnects, stops the loop and closes every subscription. Further
// calls fail with ErrClosed. It is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.stopped
	return nil
}

// Submit queues cmd for writing. It returns at once: rejected commands are
// never queued, accepted ones resolve through the returned Pending.
func (c *Controller) Submit(cmd WriteCommand) (*Pending, error) {
	var p *Pending
	err := c.call(func() error {
		var err error
		p, err = c.submit(cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SetLamp submits the on/off command to the configured characteristic.
func (c *Controller) SetLamp(on bool) (*Pending, error) {
	return c.Submit(WriteCommand{
		Characteristic: c.opts.CharacteristicUUID,
		Payload:        protocol.Encode(protocol.FromBool(on)),
	})
}

func (c *Controller) startScan(ctx context.Context) error {
	if c.unavailable != nil {
		return c.unavailable
	}
	if c.state.active() {
		return ErrBusy
	}
	if c.state == StateScanning {
		return ErrScanInProgress
	}
	results, err := c.scanner.Start(ctx, c.opts.DeviceName, c.opts.ScanTimeout)
	if err != nil {
		return err
	}
	c.scanGen++
	gen := c.scanGen
	c.setState(StateScanning, nil)

	go func() {
		for res := range results {
			c.post(func() { c.scanResult(gen, res) })
		}
		c.post(func() { c.scanEnded(gen) })
	}()
	return nil
}

func (c *Controller) scanResult(gen uint64, res ScanResult) {
	if gen != c.scanGen || c.state != StateScanning {
		return
	}
	if res.Err != nil {
		if errors.Is(res.Err, ErrScanTimedOut) {
			c.setState(StateScanTimedOut, res.Err)
		} else {
			c.setState(StateScanFailed, res.Err)
		}
		return
	}

	c.peripheral = res.Peripheral
	c.updateSnapshot()
	c.publish(Event{Kind: EventPeripheralFound, Peripheral: res.Peripheral})

	if !c.opts.AutoConnect {
		c.setState(StateIdle, nil)
		return
	}
	if err := c.connect(res.Peripheral); err != nil {
		c.log.Warn("[BLE] auto-connect failed", "address", res.Peripheral.Address, "error", err)
	}
}

func (c *Controller) scanEnded(gen uint64) {
	if gen == c.scanGen && c.state == StateScanning {
		c.setState(StateIdle, nil)
	}
}

func (c *Controller) connect(p *Peripheral) error {
	if c.unavailable != nil {
		return c.unavailable
	}
	if c.state.active() {
		return ErrBusy
	}
	if c.state == StateScanning {
		c.scanGen++
		c.scanner.Stop()
	}

	c.gen++
	gen := c.gen
	c.peripheral = p
	c.log.Info("[BLE] connecting", "name", p.Name, "address", p.Address)

	link, err := c.radio.Connect(p.Address, &linkEvents{c: c, gen: gen})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		c.setState(StateConnectFailed, err)
		return err
	}
	c.link = link
	c.setState(StateConnecting, nil)

	if c.opts.ConnectTimeout > 0 {
		c.connTimer = time.AfterFunc(c.opts.ConnectTimeout, func() {
			c.post(func() { c.connectExpired(gen) })
		})
	}
	return nil
}

func (c *Controller) disconnect() {
	if c.link == nil {
		return
	}
	c.log.Info("[BLE] disconnecting", "address", c.peripheralAddr())
	c.release(true, ErrDisconnected)
	c.setState(StateIdle, nil)
}

// release drops the link and everything bound to it. Callbacks still in
// flight for the old link are ignored afterwards.
func (c *Controller) release(hangUp bool, queueErr error) {
	c.gen++
	c.stopConnTimer()
	c.dispatcher.failAll(queueErr)
	c.services = nil
	if link := c.link; link != nil {
		c.link = nil
		if hangUp {
			if err := link.Disconnect(); err != nil {
				c.log.Warn("[BLE] disconnect", "error", err)
			}
		}
		if err := link.Close(); err != nil {
			c.log.Warn("[BLE] close link", "error", err)
		}
	}
}

func (c *Controller) stopConnTimer() {
	if c.connTimer != nil {
		c.connTimer.Stop()
		c.connTimer = nil
	}
}

func (c *Controller) connectExpired(gen uint64) {
	if gen != c.gen || c.state != StateConnecting {
		return
	}
	c.log.Warn("[BLE] connect timed out", "address", c.peripheralAddr(), "timeout", c.opts.ConnectTimeout)
	c.release(true, ErrDisconnected)
	c.setState(StateConnectFailed, fmt.Errorf("%w: %w", ErrConnectFailed, ErrConnectTimeout))
}

func (c *Controller) connectionChanged(gen uint64, status int, connected bool) {
	if gen != c.gen || c.link == nil {
		c.log.Debug("[BLE] stale connection callback", "status", status, "connected", connected)
		return
	}

	if connected && status == StatusSuccess {
		if c.state != StateConnecting {
			return
		}
		c.stopConnTimer()
		c.dispatcher.bind(c.link)
		c.setState(StateConnected, nil)
		c.log.Info("[BLE] connected", "address", c.peripheralAddr())
		if err := c.link.DiscoverServices(); err != nil {
			c.reportError(fmt.Errorf("%w: %w", ErrServiceDiscoveryFailed, err))
		}
		return
	}

	prev := c.state
	c.release(connected, ErrDisconnected)
	if prev == StateConnecting {
		c.log.Warn("[BLE] connect failed", "address", c.peripheralAddr(), "status", status)
		c.setState(StateConnectFailed, statusError(ErrConnectFailed, status))
		return
	}
	c.log.Warn("[BLE] disconnected", "address", c.peripheralAddr(), "status", status)
	c.setState(StateDisconnected, statusError(ErrDisconnected, status))
}

func (c *Controller) servicesDiscovered(gen uint64, services []Service, status int) {
	if gen != c.gen || c.state != StateConnected {
		return
	}
	if status != StatusSuccess {
		c.reportError(statusError(ErrServiceDiscoveryFailed, status))
		return
	}

	c.services = make(map[string]Service, len(services))
	for _, svc := range services {
		c.services[NormalizeUUID(svc.UUID)] = svc
	}
	if _, ok := c.services[NormalizeUUID(c.opts.ServiceUUID)]; ok {
		c.log.Info("[BLE] lamp service found", "uuid", c.opts.ServiceUUID)
	} else {
		c.log.Warn("[BLE] lamp service not found", "uuid", c.opts.ServiceUUID, "services", len(services))
	}
	c.updateSnapshot()
	c.publish(Event{Kind: EventServicesDiscovered, Services: c.snapshotServices()})
}

func (c *Controller) submit(cmd WriteCommand) (*Pending, error) {
	if c.unavailable != nil {
		return nil, c.unavailable
	}
	if c.state != StateConnected {
		return nil, ErrNotConnected
	}
	if len(cmd.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	char, ok := c.characteristic(cmd.Characteristic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, cmd.Characteristic)
	}
	p := newPending(cmd)
	c.dispatcher.enqueue(p, char)
	c.updateSnapshot()
	return p, nil
}

// characteristic resolves uuid among the discovered services, preferring
// the lamp service.
func (c *Controller) characteristic(uuid string) (Characteristic, bool) {
	key := NormalizeUUID(uuid)
	if svc, ok := c.services[NormalizeUUID(c.opts.ServiceUUID)]; ok {
		if char, ok := svc.Characteristics[key]; ok {
			return char, true
		}
	}
	for _, svc := range c.services {
		if char, ok := svc.Characteristics[key]; ok {
			return char, true
		}
	}
	return nil, false
}

func (c *Controller) writeFinished(p *Pending) {
	c.updateSnapshot()
	c.publish(Event{Kind: EventWriteCompleted, CommandID: p.ID(), Err: p.err})
}

func (c *Controller) writeStalled() {
	c.log.Warn("[BLE] write timed out, dropping connection", "address", c.peripheralAddr())
	c.release(true, ErrDisconnected)
	c.setState(StateDisconnected, ErrWriteTimeout)
}

func (c *Controller) shutdown() {
	c.scanGen++
	c.scanner.Stop()
	if c.link != nil {
		c.release(true, ErrDisconnected)
		if c.unavailable == nil {
			c.setState(StateIdle, nil)
		}
	}
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub)
	}
	c.log.Debug("[BLE] controller closed")
}

func (c *Controller) setState(s State, err error) {
	prev := c.state
	c.state = s
	c.updateSnapshot()
	if prev != s {
		c.log.Debug("[BLE] state", "from", prev, "to", s)
	}
	c.publish(Event{Kind: EventStateChanged, Err: err})
}

func (c *Controller) reportError(err error) {
	c.log.Error("[BLE] error", "state", c.state, "error", err)
	c.publish(Event{Kind: EventError, Err: err})
}

func (c *Controller) publish(ev Event) {
	ev.State = c.state
	if ev.Peripheral == nil && c.peripheral != nil {
		p := *c.peripheral
		ev.Peripheral = &p
	}
	for id, sub := range c.subs {
		select {
		case sub <- ev:
		default:
			c.log.Warn("[BLE] subscriber too slow, event dropped", "subscriber", id, "event", ev.Kind)
		}
	}
}

func (c *Controller) updateSnapshot() {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.snapshot.state = c.state
	c.snapshot.peripheral = c.peripheral
	c.snapshot.queued = c.dispatcher.depth()
	c.snapshot.services = c.snapshotServices()
}

// snapshotServices copies the discovered services, characteristic maps
// included, so callers never share a map with the loop. Must be called on
// the loop.
func (c *Controller) snapshotServices() []Service {
	out := make([]Service, 0, len(c.services))
	for _, svc := range c.services {
		svc.Characteristics = maps.Clone(svc.Characteristics)
		out = append(out, svc)
	}
	return out
}

func (c *Controller) peripheralAddr() string {
	if c.peripheral == nil {
		return ""
	}
	return c.peripheral.Address
}

// linkEvents forwards radio callbacks for one link onto the loop.
type linkEvents struct {
	c   *Controller
	gen uint64
}

func (e *linkEvents) OnConnectionStateChange(status int, connected bool) {
	e.c.post(func() { e.c.connectionChanged(e.gen, status, connected) })
}

func (e *linkEvents) OnServicesDiscovered(services []Service, status int) {
	e.c.post(func() { e.c.servicesDiscovered(e.gen, services, status) })
}

func (e *linkEvents) OnCharacteristicWrite(uuid string, status int) {
	e.c.post(func() {
		if e.gen != e.c.gen {
			return
		}
		e.c.dispatcher.complete(uuid, status)
	})
}
