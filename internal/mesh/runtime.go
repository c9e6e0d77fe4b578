package mesh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/amr-mesh/internal/adapt"
	"github.com/annel0/amr-mesh/internal/eventbus"
	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/logging"
	"github.com/annel0/amr-mesh/internal/quiescence"
	"github.com/annel0/amr-mesh/internal/vec"
)

// Options: всё, что нужно runtime. Передаются явно, без глобального состояния.
type Options struct {
	Rank            int
	BlockSize       vec.Vec3
	NumFieldBlocks  int
	InitialCycle    int
	InitialMaxLevel int
	MaxLevel        int // 0: без ограничения
	Boundary        index.Boundary
	Testing         bool

	Criteria *adapt.Set
	Fields   adapt.FieldDescr
	Factory  Factory
	Delivery Delivery

	// QuiescenceTimeout ограничивает ожидание барьера, 0 отключает сторожа
	QuiescenceTimeout time.Duration

	Metrics *Metrics
	Bus     eventbus.EventBus
	Logger  *logging.Logger

	// Trace вызывается после принятия каждой рассылки корня
	Trace func(TraceEvent)
}

// TraceEvent описывает обработку рассылки одним блоком
type TraceEvent struct {
	Index index.Index
	Kind  Kind
	Epoch uint64
	N     int
}

// CycleReport: уведомление о завершении цикла адаптации. Выдаётся корнем ровно один раз.
type CycleReport struct {
	Cycle         int           `json:"cycle"`
	Phases        int           `json:"phases"`
	BalanceRounds int           `json:"balance_rounds"`
	Refined       int           `json:"refined"`
	Coarsened     int           `json:"coarsened"`
	ForcedRefines int           `json:"forced_refines"`
	Blocks        int           `json:"blocks"`
	MaxLevel      int           `json:"max_level"`
	Duration      time.Duration `json:"duration"`
}

type cycleStats struct {
	phases        atomic.Int64
	balanceRounds atomic.Int64
	refined       atomic.Int64
	coarsened     atomic.Int64
	forced        atomic.Int64
	started       time.Time
}

// Runtime владеет реестром акторов, доставкой и детектором тишины
type Runtime struct {
	opts     Options
	log      *logging.Logger
	detector *quiescence.Detector
	delivery Delivery

	mu     sync.RWMutex
	actors map[index.Index]*BlockActor

	epoch   atomic.Uint64 // номер последней рассылки корня
	busy    atomic.Bool
	started atomic.Bool
	closed  atomic.Bool
	stats   cycleStats
	cycle   atomic.Int64 // последний завершённый цикл
	active  atomic.Int64 // цикл, запущенный последним Adapt

	waiterMu sync.Mutex
	waiter   chan CycleReport // канал ответа текущего цикла

	faulted  chan struct{}
	failOnce sync.Once
	errMu    sync.RWMutex
	err      error

	cancel context.CancelFunc
}

// NewRuntime проверяет опции и создаёт runtime. Корень появляется в Start.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Rank < 1 || opts.Rank > 3 {
		return nil, fmt.Errorf("mesh: rank must be 1, 2 or 3, got %d", opts.Rank)
	}
	if opts.InitialMaxLevel < 0 || opts.MaxLevel < 0 {
		return nil, fmt.Errorf("mesh: negative level limits")
	}
	if opts.Factory == nil {
		opts.Factory = DefaultFactory{}
	}
	if opts.Delivery == nil {
		opts.Delivery = ConcurrentDelivery()
	}
	if opts.Criteria == nil {
		opts.Criteria = adapt.NewSet()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetMeshLogger()
	}

	rt := &Runtime{
		opts:     opts,
		log:      opts.Logger,
		delivery: opts.Delivery,
		actors:   make(map[index.Index]*BlockActor),
		faulted:  make(chan struct{}),
	}
	rt.detector = quiescence.NewDetector(opts.QuiescenceTimeout, func(err error) {
		rt.fail(fmt.Errorf("adaptation barrier: %w", err))
	})
	rt.cycle.Store(int64(opts.InitialCycle) - 1)
	return rt, nil
}

// Options возвращает копию опций runtime
func (rt *Runtime) Options() Options { return rt.opts }

// Start запускает доставку и создаёт корневой блок
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.closed.Load() {
		return ErrClosed
	}
	if !rt.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, rt.cancel = context.WithCancel(ctx)
	rt.delivery.start(ctx, rt)

	err := rt.spawn(BlockSpec{
		Index:          index.Root(),
		Size:           rt.opts.BlockSize,
		NumFieldBlocks: rt.opts.NumFieldBlocks,
		Testing:        rt.opts.Testing,
		Cycle:          rt.opts.InitialCycle,
	})
	if err != nil {
		return err
	}
	rt.log.Info("🌱 Сетка запущена: rank=%d, boundary=%s, критерии=%v", rt.opts.Rank, rt.opts.Boundary, rt.opts.Criteria.Names())
	return nil
}

// Adapt выполняет один цикл адаптации и ждёт уведомления корня.
// Отмена ctx прекращает только ожидание: начатый цикл доводится до конца.
func (rt *Runtime) Adapt(ctx context.Context, cycle int) (CycleReport, error) {
	if rt.closed.Load() {
		return CycleReport{}, ErrClosed
	}
	if !rt.started.Load() {
		return CycleReport{}, ErrNotStarted
	}
	if err := rt.Err(); err != nil {
		return CycleReport{}, err
	}
	if !rt.busy.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleInProgress
	}

	done := make(chan CycleReport, 1)
	rt.waiterMu.Lock()
	rt.waiter = done
	rt.waiterMu.Unlock()
	rt.resetStats()
	rt.active.Store(int64(cycle))

	rt.log.Debug("▶️ Цикл адаптации %d запущен", cycle)
	rt.send(index.Root(), startMsg{cycle: cycle})

	select {
	case report := <-done:
		return report, nil
	case <-rt.faulted:
		return CycleReport{}, rt.Err()
	case <-ctx.Done():
		return CycleReport{}, ctx.Err()
	}
}

// Busy сообщает, идёт ли цикл адаптации
func (rt *Runtime) Busy() bool { return rt.busy.Load() }

// LastCycle возвращает номер последнего завершённого цикла
func (rt *Runtime) LastCycle() int { return int(rt.cycle.Load()) }

// Blocks возвращает текущее число блоков
func (rt *Runtime) Blocks() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.actors)
}

// Err возвращает фатальную ошибку, остановившую протокол
func (rt *Runtime) Err() error {
	rt.errMu.RLock()
	defer rt.errMu.RUnlock()
	return rt.err
}

// Snapshot опрашивает каждый блок сообщением и собирает согласованный снимок.
// Между циклами акторы неподвижны, во время цикла снимок недоступен.
func (rt *Runtime) Snapshot(ctx context.Context) (*Snapshot, error) {
	if rt.closed.Load() {
		return nil, ErrClosed
	}
	if !rt.started.Load() {
		return nil, ErrNotStarted
	}
	if err := rt.Err(); err != nil {
		return nil, err
	}
	if !rt.busy.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer rt.busy.Store(false)

	rt.mu.RLock()
	targets := make([]index.Index, 0, len(rt.actors))
	for idx := range rt.actors {
		targets = append(targets, idx)
	}
	rt.mu.RUnlock()

	reply := make(chan BlockInfo, len(targets))
	for _, idx := range targets {
		rt.send(idx, inspectMsg{reply: reply})
	}

	snap := &Snapshot{Cycle: rt.LastCycle(), Rank: rt.opts.Rank, Blocks: make([]BlockInfo, 0, len(targets))}
	for range targets {
		select {
		case info := <-reply:
			snap.Blocks = append(snap.Blocks, info)
		case <-rt.faulted:
			return nil, rt.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	snap.sortBlocks()
	return snap, nil
}

// Close останавливает доставку и дожидается горутин
func (rt *Runtime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	err := rt.delivery.wait()
	rt.log.Info("🛑 Сетка остановлена (%d блоков)", rt.Blocks())
	return err
}

// spawn создаёт блок через фабрику и регистрирует его
func (rt *Runtime) spawn(spec BlockSpec) error {
	a, err := rt.opts.Factory.CreateBlock(rt, spec)
	if err != nil {
		return fmt.Errorf("create block %s: %w", spec.Index, err)
	}
	if a == nil || a.Index() != spec.Index {
		return fmt.Errorf("create block %s: factory returned a different block", spec.Index)
	}

	rt.mu.Lock()
	if _, exists := rt.actors[spec.Index]; exists {
		rt.mu.Unlock()
		return &ProtocolViolation{Index: spec.Index, Level: spec.Level, Phase: PhasePropagating, Detail: "block already exists"}
	}
	rt.actors[spec.Index] = a
	n := len(rt.actors)
	rt.mu.Unlock()

	rt.delivery.attach(a)
	rt.opts.Metrics.blocks(n)
	return nil
}

func (rt *Runtime) unregister(a *BlockActor) {
	rt.mu.Lock()
	delete(rt.actors, a.idx)
	n := len(rt.actors)
	rt.mu.Unlock()

	rt.delivery.retire(a)
	rt.opts.Metrics.blocks(n)
}

func (rt *Runtime) lookup(idx index.Index) *BlockActor {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.actors[idx]
}

// send учитывает сообщение в детекторе до постановки в очередь
func (rt *Runtime) send(to index.Index, m message) {
	a := rt.lookup(to)
	if a == nil {
		rt.fail(&ProtocolViolation{Index: to, Level: to.Level(), Phase: PhaseIdle,
			Detail: fmt.Sprintf("%s sent to missing block", m.kind())})
		return
	}
	rt.detector.Begin()
	rt.delivery.deliver(a, m)
}

// multicast рассылает сообщение новой эпохи всем зарегистрированным блокам
func (rt *Runtime) multicast(build func(epoch uint64) message) {
	epoch := rt.epoch.Add(1)
	m := build(epoch)

	rt.mu.RLock()
	targets := make([]*BlockActor, 0, len(rt.actors))
	for _, a := range rt.actors {
		targets = append(targets, a)
	}
	rt.mu.RUnlock()

	for _, a := range targets {
		rt.detector.Begin()
		rt.delivery.deliver(a, m)
	}
}

// dispatch выполняет обработчик и закрывает учёт сообщения в детекторе
func (rt *Runtime) dispatch(a *BlockActor, m message) {
	defer rt.detector.Done()
	if rt.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			rt.fail(fmt.Errorf("block %s panicked on %s: %v", a.idx, m.kind(), r))
		}
	}()

	rt.opts.Metrics.message(m.kind())
	if err := a.handle(m); err != nil {
		rt.fail(err)
	}
}

// drop снимает учёт сообщения, пришедшего после удаления блока
func (rt *Runtime) drop(a *BlockActor, m message) {
	rt.log.Warn("⚠️ Сообщение %s для удалённого блока %s отброшено", m.kind(), a.idx)
	rt.detector.Done()
}

// fail фиксирует первую фатальную ошибку; дальше сообщения только вычерпываются
func (rt *Runtime) fail(err error) {
	rt.failOnce.Do(func() {
		rt.errMu.Lock()
		rt.err = err
		rt.errMu.Unlock()
		close(rt.faulted)

		rt.log.Error("❌ Протокол адаптации остановлен: %v", err)
		rt.opts.Metrics.violation()
		rt.publish(eventbus.TypeProtocolViolation, map[string]string{"error": err.Error()})
	})
}

func (rt *Runtime) trace(a *BlockActor, k Kind, epoch uint64, n int) {
	rt.log.Trace("%s %s epoch=%d n=%d", a.idx, k, epoch, n)
	if rt.opts.Trace != nil {
		rt.opts.Trace(TraceEvent{Index: a.idx, Kind: k, Epoch: epoch, N: n})
	}
}

func (rt *Runtime) resetStats() {
	rt.stats.phases.Store(0)
	rt.stats.balanceRounds.Store(0)
	rt.stats.refined.Store(0)
	rt.stats.coarsened.Store(0)
	rt.stats.forced.Store(0)
	rt.stats.started = time.Now()
}

// complete: единственное уведомление о конце цикла, вызывается корнем
func (rt *Runtime) complete(cycle, maxLevel int) {
	report := CycleReport{
		Cycle:         cycle,
		Phases:        int(rt.stats.phases.Load()),
		BalanceRounds: int(rt.stats.balanceRounds.Load()),
		Refined:       int(rt.stats.refined.Load()),
		Coarsened:     int(rt.stats.coarsened.Load()),
		ForcedRefines: int(rt.stats.forced.Load()),
		Blocks:        rt.Blocks(),
		MaxLevel:      maxLevel,
		Duration:      time.Since(rt.stats.started),
	}
	rt.cycle.Store(int64(cycle))
	rt.opts.Metrics.cycle(report)
	rt.publish(eventbus.TypeAdaptCycleComplete, report)
	rt.log.Info("✅ Цикл %d завершён: блоков=%d, глубина=%d, уточнений=%d (+%d 2:1), огрублений=%d, %s",
		cycle, report.Blocks, report.MaxLevel, report.Refined, report.ForcedRefines, report.Coarsened, report.Duration)

	rt.waiterMu.Lock()
	done := rt.waiter
	rt.waiter = nil
	rt.waiterMu.Unlock()

	rt.busy.Store(false)
	if done != nil {
		done <- report
	}
}
