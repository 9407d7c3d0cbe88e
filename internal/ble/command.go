package ble

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// WriteCommand is a characteristic write requested by a caller.
type WriteCommand struct {
	Characteristic string // characteristic UUID
	Payload        []byte
}

// Pending tracks an accepted WriteCommand until the radio reports its
// outcome. It is resolved exactly once.
type Pending struct {
	id   string
	cmd  WriteCommand
	done chan struct{}
	err  error
}

func newPending(cmd WriteCommand) *Pending {
	payload := make([]byte, len(cmd.Payload))
	copy(payload, cmd.Payload)
	cmd.Payload = payload
	return &Pending{
		id:   ulid.Make().String(),
		cmd:  cmd,
		done: make(chan struct{}),
	}
}

// ID returns the ULID assigned when the command was accepted.
func (p *Pending) ID() string { return p.id }

// Command returns the accepted command.
func (p *Pending) Command() WriteCommand { return p.cmd }

// Done is closed once the write has completed or failed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the write outcome, or nil while the write is still pending.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the write completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve records the outcome. Only the controller loop calls it.
func (p *Pending) resolve(err error) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	p.err = err
	close(p.done)
	return true
}
