package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ScanResult is the single value a scan session reports: the matched
// peripheral, or the reason the session failed.
type ScanResult struct {
	Peripheral *Peripheral
	Err        error
}

type stopReason int

const (
	stopNone stopReason = iota
	stopMatched
	stopRequested
	stopCancelled
	stopTimeout
)

type scanSession struct {
	reason stopReason
	done   chan struct{}
}

// Scanner runs single-result scan sessions on a Radio.
type Scanner struct {
	radio Radio
	log   *slog.Logger

	mu      sync.Mutex
	session *scanSession
}

// NewScanner creates a Scanner on radio. A nil logger uses slog.Default().
func NewScanner(radio Radio, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{radio: radio, log: logger}
}

// Start begins a scan session for a peripheral advertising name. The first
// match is sent on the returned channel and the session stops; the channel
// is closed when the session ends. A radio failure is reported as a
// *ScanError and an expired timeout as ErrScanTimedOut. Cancelling ctx or
// calling Stop ends the session without a result. A timeout <= 0 means the
// session runs until a match, a failure, or cancellation.
func (s *Scanner) Start(ctx context.Context, name string, timeout time.Duration) (<-chan ScanResult, error) {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	sess := &scanSession{done: make(chan struct{})}
	s.session = sess
	s.mu.Unlock()

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	go func() {
		select {
		case <-ctx.Done():
			reason := stopCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = stopTimeout
			}
			s.stop(sess, reason)
		case <-sess.done:
		}
	}()

	out := make(chan ScanResult, 1)
	go func() {
		defer cancel()
		s.log.Info("[BLE] scanning", "name", name, "timeout", timeout)

		err := s.radio.Scan(func(adv Advertisement) {
			if adv.Name != name {
				return
			}
			s.mu.Lock()
			if sess.reason != stopNone {
				s.mu.Unlock()
				return
			}
			sess.reason = stopMatched
			s.mu.Unlock()

			s.log.Info("[BLE] found device", "name", adv.Name, "address", adv.Address, "rssi", adv.RSSI)
			out <- ScanResult{Peripheral: &Peripheral{Name: adv.Name, Address: adv.Address, RSSI: adv.RSSI}}
			if err := s.radio.StopScan(); err != nil {
				s.log.Warn("[BLE] stop scan after match", "error", err)
			}
		})

		s.mu.Lock()
		reason := sess.reason
		if s.session == sess {
			s.session = nil
		}
		close(sess.done)
		s.mu.Unlock()

		switch reason {
		case stopMatched, stopRequested, stopCancelled:
		case stopTimeout:
			s.log.Warn("[BLE] scan timed out", "name", name, "timeout", timeout)
			out <- ScanResult{Err: ErrScanTimedOut}
		default:
			if err != nil {
				scanErr := newScanError(err)
				s.log.Error("[BLE] scan failed", "code", scanErr.Code, "error", err)
				out <- ScanResult{Err: scanErr}
			}
		}
		close(out)
	}()

	return out, nil
}

// Stop ends the active session and returns once the radio scan has
// returned, so a new session can start right away. It is a no-op when
// nothing is scanning.
func (s *Scanner) Stop() {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.stop(sess, stopRequested)
	<-sess.done
}

// Scanning reports whether a session is active.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *Scanner) stop(sess *scanSession, reason stopReason) {
	s.mu.Lock()
	if s.session != sess || sess.reason != stopNone {
		s.mu.Unlock()
		return
	}
	sess.reason = reason
	s.mu.Unlock()

	if err := s.radio.StopScan(); err != nil {
		s.log.Warn("[BLE] stop scan", "error", err)
	}
}

// coder is implemented by radio errors that carry a stack error code.
type coder interface {
	Code() int
}

func newScanError(err error) *ScanError {
	code := -1
	var c coder
	if errors.As(err, &c) {
		code = c.Code()
	}
	return &ScanError{Code: code, Err: err}
}
