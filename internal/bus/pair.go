package bus

import (
	"context"
	"sync"
	"time"

	"github.com/surfacekit/uibridge/internal/wire"
)

// pairBuffer bounds how many undelivered envelopes one direction may hold
// before Send blocks on the receiver.
const pairBuffer = 64

// Pair returns two attached in-process endpoints. Envelopes sent on one side
// are delivered to the other in order, stamped with the sender's origin.
// Closing either side unblocks both.
func Pair(originA, originB string) (Endpoint, Endpoint) {
	ab := make(chan Delivery, pairBuffer)
	ba := make(chan Delivery, pairBuffer)
	done := make(chan struct{})
	var once sync.Once
	closeBoth := func() { once.Do(func() { close(done) }) }
	a := &pairEnd{origin: originA, peer: originB, out: ab, done: done, closeFn: closeBoth}
	b := &pairEnd{origin: originB, peer: originA, out: ba, done: done, closeFn: closeBoth}
	a.recv = forward(ba, done)
	b.recv = forward(ab, done)
	return a, b
}

// forward drains in until the pair is closed, so receivers observe a closed
// channel instead of hanging on buffered leftovers. Envelopes already in
// flight at close time are still offered to a live receiver, briefly.
func forward(in <-chan Delivery, done <-chan struct{}) <-chan Delivery {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d := <-in:
				select {
				case out <- d:
				case <-done:
					return
				}
			case <-done:
				for {
					select {
					case d := <-in:
						select {
						case out <- d:
						case <-time.After(100 * time.Millisecond):
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
	return out
}

type pairEnd struct {
	origin  string
	peer    string
	out     chan<- Delivery
	recv    <-chan Delivery
	done    chan struct{}
	closeFn func()
}

func (p *pairEnd) Send(ctx context.Context, env wire.Envelope) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- Delivery{Env: env, Origin: p.origin}:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pairEnd) Recv() <-chan Delivery { return p.recv }
func (p *pairEnd) Origin() string        { return p.origin }
func (p *pairEnd) Peer() string          { return p.peer }

func (p *pairEnd) Close() error {
	p.closeFn()
	return nil
}
