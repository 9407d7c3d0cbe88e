package ble

import (
	"errors"
	"fmt"
)

var (
	ErrScanFailed             = errors.New("ble: scan failed")
	ErrScanTimedOut           = errors.New("ble: scan timed out")
	ErrScanInProgress         = errors.New("ble: scan already in progress")
	ErrConnectFailed          = errors.New("ble: connect failed")
	ErrConnectTimeout         = errors.New("ble: connect timed out")
	ErrServiceDiscoveryFailed = errors.New("ble: service discovery failed")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrWriteFailed            = errors.New("ble: write failed")
	ErrWriteTimeout           = errors.New("ble: write timed out")
	ErrNotConnected           = errors.New("ble: not connected")
	ErrDisconnected           = errors.New("ble: disconnected")
	ErrBusy                   = errors.New("ble: connection already active")
	ErrEmptyPayload           = errors.New("ble: empty payload")
	ErrUnavailable            = errors.New("ble: adapter unavailable")
	ErrClosed                 = errors.New("ble: controller closed")
)

// ScanError is reported when the radio aborts a scan session.
type ScanError struct {
	Code int
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ble: scan failed (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("ble: scan failed (code %d)", e.Code)
}

func (e *ScanError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrScanFailed, e.Err}
	}
	return []error{ErrScanFailed}
}

// statusError wraps a sentinel with the GATT status that caused it.
func statusError(sentinel error, status int) error {
	return fmt.Errorf("%w (status 0x%x)", sentinel, status)
}
