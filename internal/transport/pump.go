package transport

import (
	"errors"
	"io"
	"sync"

	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
)

const (
	defaultChunkSize = 4096
	defaultPumpDepth = 64
)

// Pump moves bytes from a blocking reader to a consumer that must not block.
// One goroutine reads; Drain hands the queued chunks over without waiting.
type Pump struct {
	ch       chan []byte
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	err      error
}

// StartPump starts reading r in chunks of up to chunkSize bytes, queueing at
// most depth chunks before the reader waits for the consumer.
func StartPump(r io.Reader, chunkSize, depth int) *Pump {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if depth <= 0 {
		depth = defaultPumpDepth
	}
	p := &Pump{
		ch:   make(chan []byte, depth),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go p.loop(r, chunkSize)
	return p
}

func (p *Pump) loop(r io.Reader, chunkSize int) {
	defer close(p.done)
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			metrics.AddBytesRx(n)
			select {
			case p.ch <- chunk:
			case <-p.stop:
				p.err = ErrPumpStopped
				return
			}
		}
		if err != nil {
			p.err = err
			return
		}
		select {
		case <-p.stop:
			p.err = ErrPumpStopped
			return
		default:
		}
	}
}

// ErrPumpStopped is reported by Drain after Stop.
var ErrPumpStopped = errors.New("pump stopped")

// Drain passes every queued chunk to fn without blocking. It returns nil
// while the reader is alive and the terminal read error once the reader has
// exited and its queued chunks were delivered.
func (p *Pump) Drain(fn func([]byte)) error {
queued:
	for i := cap(p.ch); i > 0; i-- {
		select {
		case b := <-p.ch:
			fn(b)
		default:
			break queued
		}
	}
	select {
	case <-p.done:
		for {
			select {
			case b := <-p.ch:
				fn(b)
			default:
				return p.err
			}
		}
	default:
		return nil
	}
}

// Done is closed when the reader goroutine exits.
func (p *Pump) Done() <-chan struct{} { return p.done }

// Stop releases a reader blocked on a full queue. The underlying reader must
// be closed separately to unblock a pending Read.
func (p *Pump) Stop() { p.stopOnce.Do(func() { close(p.stop) }) }
