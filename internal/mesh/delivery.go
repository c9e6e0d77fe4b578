package mesh

import (
	"context"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Delivery: стратегия доставки сообщений акторам. Гарантия одна:
// обработчики одного актора никогда не выполняются параллельно.
type Delivery interface {
	start(ctx context.Context, rt *Runtime)
	attach(a *BlockActor)
	deliver(a *BlockActor, m message)
	retire(a *BlockActor)
	wait() error
}

// envelope: сообщение в очереди вместе с адресатом
type envelope struct {
	to  *BlockActor
	msg message
}

// mailbox: неограниченная очередь одного актора
type mailbox struct {
	mu     sync.Mutex
	queue  []message
	wake   chan struct{}
	closed bool
}

//================ Concurrent: горутина на актор =================//

type concurrentDelivery struct {
	g   *errgroup.Group
	ctx context.Context
	rt  *Runtime
}

// ConcurrentDelivery запускает по горутине на каждый актор
func ConcurrentDelivery() Delivery {
	return &concurrentDelivery{}
}

func (d *concurrentDelivery) start(ctx context.Context, rt *Runtime) {
	d.g, d.ctx = errgroup.WithContext(ctx)
	d.rt = rt
}

func (d *concurrentDelivery) attach(a *BlockActor) {
	d.g.Go(func() error {
		d.loop(a)
		return nil
	})
}

func (d *concurrentDelivery) deliver(a *BlockActor, m message) {
	a.box.mu.Lock()
	if a.box.closed {
		a.box.mu.Unlock()
		d.rt.drop(a, m)
		return
	}
	a.box.queue = append(a.box.queue, m)
	a.box.mu.Unlock()
	select {
	case a.box.wake <- struct{}{}:
	default:
	}
}

func (d *concurrentDelivery) retire(a *BlockActor) {
	a.box.mu.Lock()
	a.box.closed = true
	a.box.mu.Unlock()
	select {
	case a.box.wake <- struct{}{}:
	default:
	}
}

func (d *concurrentDelivery) loop(a *BlockActor) {
	for {
		a.box.mu.Lock()
		batch := a.box.queue
		a.box.queue = nil
		closed := a.box.closed
		a.box.mu.Unlock()

		for _, m := range batch {
			d.rt.dispatch(a, m)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-a.box.wake:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *concurrentDelivery) wait() error {
	if d.g == nil {
		return nil
	}
	return d.g.Wait()
}

//================ Random: одна горутина, случайный порядок =================//

type randomDelivery struct {
	mu      sync.Mutex
	pending []envelope
	wake    chan struct{}
	rng     *rand.Rand
	rt      *Runtime
	done    chan struct{}
}

// RandomDelivery обрабатывает все сообщения в одной горутине, каждый раз
// выбирая случайное из ожидающих. Порядок воспроизводим по seed.
func RandomDelivery(seed int64) Delivery {
	return &randomDelivery{
		wake: make(chan struct{}, 1),
		rng:  rand.New(rand.NewSource(seed)),
		done: make(chan struct{}),
	}
}

func (d *randomDelivery) start(ctx context.Context, rt *Runtime) {
	d.rt = rt
	go d.loop(ctx)
}

func (d *randomDelivery) attach(*BlockActor) {}

func (d *randomDelivery) retire(*BlockActor) {}

func (d *randomDelivery) deliver(a *BlockActor, m message) {
	d.mu.Lock()
	d.pending = append(d.pending, envelope{to: a, msg: m})
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *randomDelivery) loop(ctx context.Context) {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.mu.Unlock()
			select {
			case <-d.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		i := d.rng.Intn(len(d.pending))
		env := d.pending[i]
		last := len(d.pending) - 1
		d.pending[i] = d.pending[last]
		d.pending[last] = envelope{}
		d.pending = d.pending[:last]
		d.mu.Unlock()

		d.rt.dispatch(env.to, env.msg)
	}
}

func (d *randomDelivery) wait() error {
	if d.rt == nil {
		return nil
	}
	<-d.done
	return nil
}
