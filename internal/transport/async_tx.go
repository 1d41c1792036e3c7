package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx funnels items of type T through a single worker goroutine so slow
// sinks (sqlite, NATS) never stall the session tick. Enqueue never blocks:
// with a full queue Send invokes OnDrop and returns its error.
//
//	a := NewAsyncTx(ctx, 256, publish, Hooks{})
//	_ = a.Send(frame)
//	a.Close()
//
// Send after Close returns ErrAsyncTxClosed.
type AsyncTx[T any] struct {
	mu     sync.Mutex
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(T) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error.
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the queue is full; its error is returned from
	// Send. If nil, the overflow is silent.
	OnDrop func() error
}

var ErrAsyncTxClosed = errors.New("async tx closed")

// NewAsyncTx starts a worker with a queue of buf items.
func NewAsyncTx[T any](parent context.Context, buf int, send func(T) error, hooks Hooks) *AsyncTx[T] {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx[T]{
		ch:     make(chan T, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx[T]) loop() {
	defer a.wg.Done()
	for {
		select {
		case v, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(v); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues v or reports the drop error when the queue is full.
func (a *AsyncTx[T]) Send(v T) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- v:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Len reports the number of queued items.
func (a *AsyncTx[T]) Len() int { return len(a.ch) }

// Close stops the worker and waits for it. Queued items not yet picked up
// are dropped.
func (a *AsyncTx[T]) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}

// Drain stops accepting items and waits until everything already queued has
// been passed to send.
func (a *AsyncTx[T]) Drain() {
	if a.closed.Swap(true) {
		return
	}
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
	a.cancel()
}
