package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Типы событий, которые публикует сетка
const (
	TypeBlockRefined       = "BlockRefined"
	TypeBlockCoarsened     = "BlockCoarsened"
	TypeBalanceRefine      = "BalanceRefine"
	TypeAdaptCycleComplete = "AdaptCycleComplete"
	TypeProtocolViolation  = "ProtocolViolation"
)

// ErrClosed возвращается при публикации в закрытую шину
var ErrClosed = errors.New("eventbus: closed")

// Envelope описывает универсальный контейнер события.
// Все поля фиксированы для версионирования и трассировки.
type Envelope struct {
	ID            string            `json:"id"`             // Глобально уникальный идентификатор (UUID).
	Timestamp     time.Time         `json:"timestamp"`      // Время создания события (UTC).
	Source        string            `json:"source"`         // Имя сервиса-источника.
	EventType     string            `json:"event_type"`     // Тип события (BlockRefined, AdaptCycleComplete…).
	Version       int               `json:"version"`        // Схема полезной нагрузки.
	CorrelationID string            `json:"correlation_id"` // Для связывания событий одного цикла.
	Priority      int               `json:"priority"`       // 0=Low … 9=Critical (для backpressure).
	Payload       []byte            `json:"payload"`        // JSON полезной нагрузки.
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope сериализует payload в JSON и заполняет служебные поля
func NewEnvelope(source, eventType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку в v
func (ev *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(ev.Payload, v)
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто, все типы.
	Sources []string // Если пусто, все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

// memoryBus доставляет события каждому подписчику в порядке публикации:
// у каждого подписчика своя очередь и своя горутина.
type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	capacity    int
	closed      bool
	wg          sync.WaitGroup

	// closing отменяется в Close и будит заблокированных издателей
	closing context.Context
	stop    context.CancelFunc

	published uint64
	consumed  uint64
	dropped   uint64
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan *Envelope
}

// NewMemoryBus создаёт in-memory Bus с указанной ёмкостью очереди подписчика.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 256
	}
	closing, stop := context.WithCancel(context.Background())
	return &memoryBus{
		subscribers: make(map[int]*subscriber),
		capacity:    capacity,
		closing:     closing,
		stop:        stop,
	}
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	// Очереди закрываются только под write lock, поэтому отправка под RLock безопасна
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return ErrClosed
	}
	atomic.AddUint64(&mb.published, 1)

	for _, sub := range mb.subscribers {
		if !matchFilter(ev, sub.filter) {
			continue
		}
		select {
		case sub.queue <- ev:
			continue
		default:
		}
		// Очередь заполнена: дропаем низкий приоритет (<5)
		if ev.Priority < 5 {
			atomic.AddUint64(&mb.dropped, 1)
			continue
		}
		// Для High-priority блокируем до освобождения места или отмены контекста
		select {
		case sub.queue <- ev:
		case <-sub.ctx.Done():
		case <-mb.closing.Done():
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return nil, ErrClosed
	}

	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel, queue: make(chan *Envelope, mb.capacity)}
	mb.subscribers[id] = sub

	mb.wg.Add(1)
	go mb.dispatch(sub)

	return &memSub{bus: mb, id: id, cancel: cancel}, nil
}

func (mb *memoryBus) Metrics() Stats {
	s := Stats{
		Published: atomic.LoadUint64(&mb.published),
		Consumed:  atomic.LoadUint64(&mb.consumed),
		Dropped:   atomic.LoadUint64(&mb.dropped),
	}
	mb.mu.RLock()
	for _, sub := range mb.subscribers {
		s.InFlight += len(sub.queue)
	}
	mb.mu.RUnlock()
	return s
}

// Close дожидается доставки уже принятых событий и останавливает подписчиков
func (mb *memoryBus) Close() error {
	mb.stop()

	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return nil
	}
	mb.closed = true
	for id, sub := range mb.subscribers {
		close(sub.queue)
		delete(mb.subscribers, id)
	}
	mb.mu.Unlock()

	mb.wg.Wait()
	return nil
}

// dispatch последовательно передаёт события одному подписчику
func (mb *memoryBus) dispatch(sub *subscriber) {
	defer mb.wg.Done()
	defer sub.cancel()
	for {
		select {
		case ev, ok := <-sub.queue:
			if !ok {
				return
			}
			sub.handler(sub.ctx, ev)
			atomic.AddUint64(&mb.consumed, 1)
		case <-sub.ctx.Done():
			return
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus    *memoryBus
	id     int
	cancel context.CancelFunc
}

func (s *memSub) Unsubscribe() {
	// Отмена до захвата lock освобождает издателя, ждущего место в очереди
	s.cancel()
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s.id)
	s.bus.mu.Unlock()
}
