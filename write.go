package websocket

import (
	"bufio"
	"errors"
	"net"
	"os"
	"time"

	"go.uber.org/multierr"
)

var noDeadline time.Time

// Consecutive write timeouts without any progress before the transport is
// considered dead.
const maxWriteStalls = 3

// sendQueue orders outbound frames. A partially written frame always goes
// out first, control frames go next, then data jobs in call order.
type sendQueue struct {
	head    []byte
	control [][]byte
	jobs    []sendJob
}

func (q *sendQueue) pushControl(b []byte) {
	q.control = append(q.control, b)
}

func (q *sendQueue) pushJob(j sendJob) {
	q.jobs = append(q.jobs, j)
}

// requeue puts the unwritten rest of a frame back in front of everything else.
func (q *sendQueue) requeue(rest []byte) {
	q.head = rest
}

// pop returns the next bytes to write, or nil when there is nothing to send.
func (q *sendQueue) pop() ([]byte, error) {
	if q.head != nil {
		b := q.head
		q.head = nil
		return b, nil
	}

	if len(q.control) > 0 {
		b := q.control[0]
		q.control[0] = nil
		q.control = q.control[1:]
		return b, nil
	}

	for len(q.jobs) > 0 {
		j := q.jobs[0]
		b, err := j.next()
		if err != nil {
			q.jobs = q.jobs[1:]
			return nil, multierr.Append(err, j.abort())
		}
		if b != nil {
			return b, nil
		}
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
	}

	return nil, nil
}

// discardData drops every queued data job. A partially written frame and
// queued control frames are kept so the stream stays well formed.
func (q *sendQueue) discardData() error {
	var err error
	for _, j := range q.jobs {
		err = multierr.Append(err, j.abort())
	}
	q.jobs = nil
	return err
}

func (q *sendQueue) empty() bool {
	return q.head == nil && len(q.control) == 0 && len(q.jobs) == 0
}

type readResult struct {
	data []byte
	err  error
}

type writeResult struct {
	n   int
	err error
}

// readPump delivers chunks read from r to out until a read fails or quit is closed.
func readPump(r *bufio.Reader, size int, out chan<- readResult, quit <-chan struct{}) {
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- readResult{data: buf[:n]}:
			case <-quit:
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-quit:
			}
			return
		}
	}
}

// writePump writes one buffer at a time and reports how far it got.
func writePump(conn net.Conn, timeout time.Duration, in <-chan []byte, out chan<- writeResult, quit <-chan struct{}) {
	for {
		var b []byte
		select {
		case b = <-in:
		case <-quit:
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		n, err := conn.Write(b)

		select {
		case out <- writeResult{n: n, err: err}:
		case <-quit:
			return
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
