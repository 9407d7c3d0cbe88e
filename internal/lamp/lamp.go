// Package lamp turns on/off requests from the hotkey or the command line
// into lamp writes and tracks the last state the lamp acknowledged.
package lamp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qstra/lampctl/internal/ble"
)

// ErrThrottled is returned by Apply and Press for a request arriving within
// the debounce interval of the previous one.
var ErrThrottled = errors.New("lamp: request throttled")

// Waiter is an accepted write whose outcome arrives later.
type Waiter interface {
	ID() string
	Wait(ctx context.Context) error
}

// Submitter submits one on/off write. A rejected write returns an error and
// a nil Waiter.
type Submitter func(on bool) (Waiter, error)

// FromController adapts a BLE controller to a Submitter.
func FromController(c *ble.Controller) Submitter {
	return func(on bool) (Waiter, error) {
		p, err := c.SetLamp(on)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Switch sends lamp commands and remembers the acknowledged state.
type Switch struct {
	submit  Submitter
	timeout time.Duration
	limiter *rate.Limiter // nil when debounce is off

	mu    sync.Mutex
	on    bool
	known bool
	wg    sync.WaitGroup
}

// NewSwitch creates a Switch backed by submit. timeout bounds how long
// Apply waits in the background for an acknowledgement. A positive debounce
// rejects Apply and Press calls closer together than that with
// ErrThrottled. Panics if submit is nil (programmer error).
func NewSwitch(submit Submitter, timeout, debounce time.Duration) *Switch {
	if submit == nil {
		panic("lamp: NewSwitch called with nil submitter")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Switch{submit: submit, timeout: timeout}
	if debounce > 0 {
		s.limiter = rate.NewLimiter(rate.Every(debounce), 1)
	}
	return s
}

// Set writes the lamp state and waits for the lamp to acknowledge it.
func (s *Switch) Set(ctx context.Context, on bool) error {
	w, err := s.submit(on)
	if err != nil {
		return err
	}
	return s.await(ctx, w, on)
}

// Apply writes the lamp state without waiting. Only an immediate rejection
// is returned; the acknowledgement is logged and recorded in the background.
func (s *Switch) Apply(on bool) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return ErrThrottled
	}
	w, err := s.submit(on)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.await(ctx, w, on)
	}()
	return nil
}

// Toggler is the hotkey side of a press: it is told which state to flip
// from next when a press does not go through.
type Toggler interface {
	SetLampState(on bool)
}

// Press applies a hotkey request for on. A throttled press is undone on t
// so the next press asks for the same state again; any other rejection
// resets t to the last acknowledged state.
func (s *Switch) Press(on bool, t Toggler) error {
	err := s.Apply(on)
	switch {
	case err == nil:
	case errors.Is(err, ErrThrottled):
		t.SetLampState(!on)
	default:
		state, _ := s.State()
		t.SetLampState(state)
	}
	return err
}

// State returns the last acknowledged lamp state and whether any write has
// been acknowledged yet.
func (s *Switch) State() (on, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on, s.known
}

// Wait blocks until every background Apply has finished.
func (s *Switch) Wait() {
	s.wg.Wait()
}

func (s *Switch) await(ctx context.Context, w Waiter, on bool) error {
	if err := w.Wait(ctx); err != nil {
		slog.Warn("[LAMP] write not acknowledged", "id", w.ID(), "on", on, "error", err)
		return err
	}
	s.mu.Lock()
	s.on = on
	s.known = true
	s.mu.Unlock()
	slog.Info("[LAMP] switched", "id", w.ID(), "on", on)
	return nil
}
