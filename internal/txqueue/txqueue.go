// Package txqueue funnels frame writes from many producers through a single
// writer goroutine.
package txqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-socketcan/can"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("txqueue: closed")

// Hooks customize Queue behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (frame not sent).
	OnError func(can.Frame, error)
	// OnAfter is called only after a successful send.
	OnAfter func(can.Frame)
	// OnDrop is called when the buffer is full; its returned error is returned
	// from Send. If nil, the overflow is silent.
	OnDrop func(can.Frame) error
}

// Options configure a Queue.
type Options struct {
	// Size of the buffer between producers and the writer.
	Size int
	// Priority makes the writer drain whatever is buffered and transmit it in
	// bus arbitration order (can.SortByPriority) instead of arrival order.
	Priority bool
	Hooks    Hooks
}

// Queue is an asynchronous frame transmitter. Send never blocks: when the
// buffer is full the frame is handed to Hooks.OnDrop.
//
//	q := txqueue.New(ctx, sock.Send, txqueue.Options{Size: 256})
//	defer q.Close()
//	q.Send(frame)
type Queue struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	opts   Options
	closed atomic.Bool
}

// New starts the writer goroutine. It stops when parent is cancelled or
// Close is called.
func New(parent context.Context, send func(can.Frame) error, opts Options) *Queue {
	if opts.Size < 1 {
		opts.Size = 1
	}
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		ch:     make(chan can.Frame, opts.Size),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		opts:   opts,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	var batch []can.Frame
	for {
		select {
		case fr, ok := <-q.ch:
			if !ok {
				return
			}
			batch = append(batch[:0], fr)
			if q.opts.Priority {
				batch = q.drain(batch)
				can.SortByPriority(batch)
			}
			for _, fr := range batch {
				if q.ctx.Err() != nil {
					return
				}
				q.transmit(fr)
			}
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) drain(batch []can.Frame) []can.Frame {
	for len(batch) < cap(q.ch)+1 {
		select {
		case fr, ok := <-q.ch:
			if !ok {
				return batch
			}
			batch = append(batch, fr)
		default:
			return batch
		}
	}
	return batch
}

func (q *Queue) transmit(fr can.Frame) {
	if err := q.send(fr); err != nil {
		if q.opts.Hooks.OnError != nil {
			q.opts.Hooks.OnError(fr, err)
		}
		return
	}
	if q.opts.Hooks.OnAfter != nil {
		q.opts.Hooks.OnAfter(fr)
	}
}

// Send queues fr for transmission or returns the drop error if the buffer
// is full.
func (q *Queue) Send(fr can.Frame) error {
	if q.closed.Load() {
		return ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- fr:
		return nil
	default:
		if q.opts.Hooks.OnDrop != nil {
			return q.opts.Hooks.OnDrop(fr)
		}
		return nil
	}
}

// Len returns the number of frames waiting in the buffer.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the writer and waits for it to exit. Buffered frames are
// discarded.
func (q *Queue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
