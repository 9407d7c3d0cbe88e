package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qstra/lampctl/internal/ble"
)

func feed(evs ...ble.Event) <-chan ble.Event {
	ch := make(chan ble.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	return ch
}

func TestAwaitReadyOnServicesDiscovered(t *testing.T) {
	events := feed(
		ble.Event{Kind: ble.EventStateChanged, State: ble.StateScanning},
		ble.Event{Kind: ble.EventStateChanged, State: ble.StateConnecting},
		ble.Event{Kind: ble.EventStateChanged, State: ble.StateConnected},
		ble.Event{Kind: ble.EventServicesDiscovered, State: ble.StateConnected},
	)
	require.NoError(t, awaitReady(context.Background(), events))
}

func TestAwaitReadyFailsOnDiscoveryError(t *testing.T) {
	discoveryErr := fmt.Errorf("%w (status 0x101)", ble.ErrServiceDiscoveryFailed)
	events := feed(
		ble.Event{Kind: ble.EventStateChanged, State: ble.StateConnected},
		ble.Event{Kind: ble.EventError, State: ble.StateConnected, Err: discoveryErr},
	)

	// The state stays Connected, so only the error event can end the wait.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := awaitReady(ctx, events)
	assert.ErrorIs(t, err, ble.ErrServiceDiscoveryFailed)
}

func TestAwaitReadyFailsOnTerminalState(t *testing.T) {
	events := feed(ble.Event{Kind: ble.EventStateChanged, State: ble.StateScanTimedOut, Err: ble.ErrScanTimedOut})
	err := awaitReady(context.Background(), events)
	assert.ErrorIs(t, err, ble.ErrScanTimedOut)
}

func TestAwaitReadyIgnoresOtherErrors(t *testing.T) {
	events := feed(
		ble.Event{Kind: ble.EventError, State: ble.StateConnected, Err: ble.ErrWriteFailed},
		ble.Event{Kind: ble.EventServicesDiscovered, State: ble.StateConnected},
	)
	assert.NoError(t, awaitReady(context.Background(), events))
}

func TestAwaitReadyDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := awaitReady(ctx, make(chan ble.Event))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitReadyClosedStream(t *testing.T) {
	ch := make(chan ble.Event)
	close(ch)
	assert.ErrorIs(t, awaitReady(context.Background(), ch), ble.ErrClosed)
}

func TestRescanAfter(t *testing.T) {
	tests := []struct {
		state ble.State
		want  bool
	}{
		{ble.StateDisconnected, true},
		{ble.StateScanTimedOut, true},
		{ble.StateConnectFailed, true},
		{ble.StateScanFailed, false},
		{ble.StateConnected, false},
		{ble.StateScanning, false},
		{ble.StateIdle, false},
		{ble.StateUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, rescanAfter(tt.state))
		})
	}
}
