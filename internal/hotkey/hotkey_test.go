package hotkey

import "testing"

func TestTogglerAlternates(t *testing.T) {
	var tg toggler
	want := []EventType{EventOn, EventOff, EventOn, EventOff}
	for i, w := range want {
		if got := tg.next(); got != w {
			t.Errorf("press %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestTogglerFollowsLampState(t *testing.T) {
	var tg toggler
	tg.set(true)
	if got := tg.next(); got != EventOff {
		t.Errorf("after set(true), next() = %v, want off", got)
	}
	tg.set(false)
	if got := tg.next(); got != EventOn {
		t.Errorf("after set(false), next() = %v, want on", got)
	}
}

func TestEmitDoesNotBlock(t *testing.T) {
	l := NewListener([]string{"ctrl", "shift", "l"}, "toggle")
	for i := 0; i < cap(l.ch)+5; i++ {
		l.emit(EventOn)
	}
	if len(l.ch) != cap(l.ch) {
		t.Errorf("queued events = %d, want %d", len(l.ch), cap(l.ch))
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewListener([]string{"ctrl", "shift", "l"}, "hold")
	l.Stop()
	l.Stop()
	select {
	case <-l.done:
	default:
		t.Error("done should be closed after Stop")
	}
}

func TestEventTypeString(t *testing.T) {
	if EventOn.String() != "on" || EventOff.String() != "off" {
		t.Errorf("String() = %q/%q, want on/off", EventOn.String(), EventOff.String())
	}
}
