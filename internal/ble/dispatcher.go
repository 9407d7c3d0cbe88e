package ble

import (
	"fmt"
	"log/slog"
	"time"
)

// queuedWrite is a Pending bound to the characteristic handle it resolved to.
type queuedWrite struct {
	pending *Pending
	char    Characteristic
	seq     uint64
}

// dispatcher serializes writes on one link: a FIFO queue drained one write
// at a time, the next write issued only after the previous one completed.
// It is owned by the controller loop and is not safe for concurrent use.
type dispatcher struct {
	log     *slog.Logger
	timeout time.Duration

	// post runs fn on the owning loop; used by write timers.
	post func(fn func())
	// finished is called for every resolved write.
	finished func(p *Pending)
	// stalled is called after a write timed out.
	stalled func()

	link     Link
	queue    []*queuedWrite
	inflight *queuedWrite
	timer    *time.Timer
	seq      uint64
}

func newDispatcher(log *slog.Logger, timeout time.Duration, post func(func())) *dispatcher {
	return &dispatcher{
		log:      log,
		timeout:  timeout,
		post:     post,
		finished: func(*Pending) {},
		stalled:  func() {},
	}
}

// bind attaches the link writes are issued on.
func (d *dispatcher) bind(link Link) {
	d.link = link
}

// enqueue appends p and starts it if nothing is in flight.
func (d *dispatcher) enqueue(p *Pending, char Characteristic) {
	d.seq++
	d.queue = append(d.queue, &queuedWrite{pending: p, char: char, seq: d.seq})
	d.pump()
}

// pump issues the head of the queue when the link is idle.
func (d *dispatcher) pump() {
	for d.inflight == nil && len(d.queue) > 0 && d.link != nil {
		next := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]

		d.inflight = next
		d.log.Debug("[BLE] write", "id", next.pending.ID(), "char", next.char.UUID(), "len", len(next.pending.cmd.Payload))
		if err := d.link.WriteCharacteristic(next.char, next.pending.cmd.Payload); err != nil {
			d.inflight = nil
			d.finish(next, fmt.Errorf("%w: %w", ErrWriteFailed, err))
			continue
		}
		d.arm(next.seq)
	}
}

func (d *dispatcher) arm(seq uint64) {
	if d.timeout <= 0 {
		return
	}
	d.timer = time.AfterFunc(d.timeout, func() {
		d.post(func() { d.expire(seq) })
	})
}

func (d *dispatcher) disarm() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// complete handles the radio's write callback for the in-flight write.
func (d *dispatcher) complete(uuid string, status int) {
	cur := d.inflight
	if cur == nil || NormalizeUUID(uuid) != NormalizeUUID(cur.char.UUID()) {
		d.log.Warn("[BLE] unexpected write callback", "char", uuid, "status", status)
		return
	}
	d.disarm()
	d.inflight = nil

	var err error
	if status != StatusSuccess {
		err = statusError(ErrWriteFailed, status)
	}
	d.finish(cur, err)
	d.pump()
}

// expire fails the in-flight write if it is still the one that armed the
// timer. The link is presumed wedged after that.
func (d *dispatcher) expire(seq uint64) {
	cur := d.inflight
	if cur == nil || cur.seq != seq {
		return
	}
	d.timer = nil
	d.inflight = nil
	d.finish(cur, ErrWriteTimeout)
	d.stalled()
}

// failAll resolves the in-flight write and every queued write with err and
// detaches the link.
func (d *dispatcher) failAll(err error) {
	d.disarm()
	if d.inflight != nil {
		cur := d.inflight
		d.inflight = nil
		d.finish(cur, err)
	}
	queued := d.queue
	d.queue = nil
	for _, q := range queued {
		d.finish(q, err)
	}
	d.link = nil
}

// depth returns the number of writes queued or in flight.
func (d *dispatcher) depth() int {
	n := len(d.queue)
	if d.inflight != nil {
		n++
	}
	return n
}

func (d *dispatcher) finish(q *queuedWrite, err error) {
	if !q.pending.resolve(err) {
		return
	}
	if err != nil {
		d.log.Warn("[BLE] write failed", "id", q.pending.ID(), "char", q.char.UUID(), "error", err)
	} else {
		d.log.Debug("[BLE] write completed", "id", q.pending.ID(), "char", q.char.UUID())
	}
	d.finished(q.pending)
}
