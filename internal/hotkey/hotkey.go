// Package hotkey provides a global lamp hotkey using gohook. In "toggle"
// mode each press flips the lamp; in "hold" mode the lamp is on while the
// keys are held down.
package hotkey

import (
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType is the lamp state a hotkey event asks for.
type EventType int

const (
	// EventOn asks for the lamp to be switched on.
	EventOn EventType = iota
	// EventOff asks for the lamp to be switched off.
	EventOff
)

func (t EventType) String() string {
	if t == EventOn {
		return "on"
	}
	return "off"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages a global hotkey and emits on/off events.
type Listener struct {
	keys   []string
	mode   string // "toggle" or "hold"
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	toggle toggler
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "l"]).
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// SetLampState tells a toggle listener the lamp's actual state, so the next
// press flips from there. Used when the lamp is switched by other means.
func (l *Listener) SetLampState(on bool) {
	l.toggle.set(on)
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	switch l.mode {
	case "hold":
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.emit(EventOn) })
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.emit(EventOff) })
	default: // "toggle"
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.emit(l.toggle.next()) })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit never blocks the hook thread; events beyond the buffer are dropped.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
		slog.Warn("[HOTKEY] event dropped, consumer too slow", "event", t)
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// toggler alternates between on and off, starting with on.
type toggler struct {
	mu sync.Mutex
	on bool
}

func (t *toggler) next() EventType {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.on = !t.on
	if t.on {
		return EventOn
	}
	return EventOff
}

func (t *toggler) set(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.on = on
}
