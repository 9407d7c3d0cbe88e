package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvResult(t *testing.T, ch <-chan ScanResult) (ScanResult, bool) {
	t.Helper()
	select {
	case res, ok := <-ch:
		return res, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scan result")
		return ScanResult{}, false
	}
}

func TestScannerEmitsFirstMatchAndStops(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	results, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)

	radio.Advertise(Advertisement{Name: "OTHER", Address: "11:11:11:11:11:11", RSSI: -80})
	radio.Advertise(Advertisement{Name: DeviceName, Address: "AA:BB:CC:DD:EE:FF", RSSI: -45})

	res, ok := recvResult(t, results)
	require.True(t, ok)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Peripheral)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", res.Peripheral.Address)
	assert.Equal(t, DeviceName, res.Peripheral.Name)
	assert.Equal(t, -45, res.Peripheral.RSSI)

	// Exactly one result, then the channel closes.
	_, ok = recvResult(t, results)
	assert.False(t, ok, "result channel should close after the match")
	assert.Equal(t, 1, radio.stopCount())
	eventually(t, func() bool { return !s.Scanning() }, "session should end after match")

	// Double stop after the session ended is a no-op.
	s.Stop()
	s.Stop()
	assert.Equal(t, 1, radio.stopCount())
}

func TestScannerIgnoresMatchesAfterFirst(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	results, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)

	radio.Advertise(Advertisement{Name: DeviceName, Address: "AA:AA:AA:AA:AA:AA"})
	radio.Advertise(Advertisement{Name: DeviceName, Address: "BB:BB:BB:BB:BB:BB"})

	var got []ScanResult
	for res := range results {
		got = append(got, res)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "AA:AA:AA:AA:AA:AA", got[0].Peripheral.Address)
}

func TestScannerStopWhenIdleIsNoop(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	s.Stop()
	s.Stop()
	assert.Equal(t, 0, radio.stopCount())
	assert.False(t, s.Scanning())
}

func TestScannerStopEndsSessionWithoutResult(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	results, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)
	eventually(t, func() bool { return radio.scanCount() == 1 }, "scan should start")

	s.Stop()
	s.Stop()

	_, ok := recvResult(t, results)
	assert.False(t, ok, "stopped session should close without a result")
	assert.Equal(t, 1, radio.stopCount())
}

func TestScannerStopWaitsForRadio(t *testing.T) {
	radio := newMockRadio()
	radio.stopDelay = 50 * time.Millisecond
	s := NewScanner(radio, nil)

	_, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)
	eventually(t, func() bool { return radio.scanCount() == 1 }, "scan should start")

	s.Stop()
	assert.False(t, s.Scanning(), "session must be over once Stop returns")

	_, err = s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)
	s.Stop()
}

func TestScannerRejectsConcurrentSession(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	_, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.Start(context.Background(), DeviceName, 0)
	assert.ErrorIs(t, err, ErrScanInProgress)
}

func TestScannerReportsRadioFailure(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	results, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)

	radio.Fail(codedError{code: 2})

	res, ok := recvResult(t, results)
	require.True(t, ok)
	require.ErrorIs(t, res.Err, ErrScanFailed)
	var scanErr *ScanError
	require.True(t, errors.As(res.Err, &scanErr))
	assert.Equal(t, 2, scanErr.Code)
	assert.Nil(t, res.Peripheral)
}

func TestScannerUncodedFailure(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	results, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)
	radio.Fail(errMockRadio)

	res, _ := recvResult(t, results)
	var scanErr *ScanError
	require.True(t, errors.As(res.Err, &scanErr))
	assert.Equal(t, -1, scanErr.Code)
	assert.ErrorIs(t, res.Err, errMockRadio)
}

func TestScannerTimeout(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	results, err := s.Start(context.Background(), DeviceName, 30*time.Millisecond)
	require.NoError(t, err)

	res, ok := recvResult(t, results)
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, ErrScanTimedOut)

	_, ok = recvResult(t, results)
	assert.False(t, ok)
	assert.Equal(t, 1, radio.stopCount())
}

func TestScannerContextCancel(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	ctx, cancel := context.WithCancel(context.Background())
	results, err := s.Start(ctx, DeviceName, time.Minute)
	require.NoError(t, err)

	cancel()
	_, ok := recvResult(t, results)
	assert.False(t, ok, "cancelled session should close without a result")
}

func TestScannerRestartAfterSession(t *testing.T) {
	radio := newMockRadio()
	s := NewScanner(radio, nil)

	results, err := s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)
	radio.Advertise(Advertisement{Name: DeviceName, Address: "AA:BB:CC:DD:EE:FF"})
	for range results {
	}

	results, err = s.Start(context.Background(), DeviceName, 0)
	require.NoError(t, err)
	radio.Advertise(Advertisement{Name: DeviceName, Address: "AA:BB:CC:DD:EE:01"})
	res, ok := recvResult(t, results)
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", res.Peripheral.Address)
}
