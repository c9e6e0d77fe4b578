package mesh

import (
	"fmt"

	"github.com/annel0/amr-mesh/internal/adapt"
	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/quiescence"
	"github.com/annel0/amr-mesh/internal/vec"
)

// Phase: состояние автомата адаптации блока
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEvaluating
	PhasePropagating
	PhaseWaitingQuiescence
	PhaseExited // только корень, после завершения цикла
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEvaluating:
		return "evaluating"
	case PhasePropagating:
		return "propagating"
	case PhaseWaitingQuiescence:
		return "waiting_quiescence"
	case PhaseExited:
		return "exited"
	case PhaseDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// BlockActor: актор одного блока сетки. Всё его состояние принадлежит
// ему одному и меняется только обработчиками его сообщений, по одному за раз.
type BlockActor struct {
	rt  *Runtime
	idx index.Index

	size           vec.Vec3
	numFieldBlocks int
	testing        bool

	phase     Phase
	cycle     int
	remaining int

	// depth[slot]: высота поддерева через слот (0, если ребёнка нет)
	depth    []int
	versions []uint64 // версия последнего применённого отчёта по слоту

	reportVersion uint64 // счётчик собственных отчётов родителю
	reported      int    // последняя сообщённая родителю высота

	epoch       uint64 // последняя принятая рассылка
	waiting     bool
	waitEpoch   uint64
	waitReg     *quiescence.Registration
	coarsenedAt uint64 // эпоха, в которой блок поглотил своих детей

	voteEpoch uint64
	votes     uint32 // битовая маска проголосовавших за огрубление детей

	box mailbox
}

// NewBlockActor создаёт актор по спецификации фабрики. Новый блок всегда лист.
func NewBlockActor(rt *Runtime, spec BlockSpec) *BlockActor {
	n := index.NumChildren(rt.opts.Rank)
	return &BlockActor{
		rt:             rt,
		idx:            spec.Index,
		size:           spec.Size,
		numFieldBlocks: spec.NumFieldBlocks,
		testing:        spec.Testing,
		cycle:          spec.Cycle,
		remaining:      spec.Remaining,
		epoch:          spec.Epoch,
		depth:          make([]int, n),
		versions:       make([]uint64, n),
		box:            mailbox{wake: make(chan struct{}, 1)},
	}
}

func (a *BlockActor) Index() index.Index { return a.idx }
func (a *BlockActor) Level() int         { return a.idx.Level() }
func (a *BlockActor) Rank() int          { return a.rt.opts.Rank }
func (a *BlockActor) Size() vec.Vec3     { return a.size }
func (a *BlockActor) Cycle() int         { return a.cycle }

// Testing сообщает, создан ли блок в тестовом режиме
func (a *BlockActor) Testing() bool { return a.testing }

// NumFieldBlocks возвращает число блоков полей, унаследованное от родителя
func (a *BlockActor) NumFieldBlocks() int { return a.numFieldBlocks }

// IsLeaf истинно, когда все элементы вектора глубин нулевые
func (a *BlockActor) IsLeaf() bool {
	for _, d := range a.depth {
		if d != 0 {
			return false
		}
	}
	return true
}

func (a *BlockActor) height() int {
	h := 0
	for _, d := range a.depth {
		if d > h {
			h = d
		}
	}
	return h
}

func (a *BlockActor) violation(format string, args ...interface{}) error {
	return &ProtocolViolation{Index: a.idx, Level: a.Level(), Phase: a.phase, Detail: fmt.Sprintf(format, args...)}
}

func (a *BlockActor) checkLevel(level int, k Kind) error {
	if level != a.Level() {
		return a.violation("%s addressed to level %d", k, level)
	}
	return nil
}

// handle обрабатывает одно сообщение. Вызывается доставкой строго последовательно.
func (a *BlockActor) handle(m message) error {
	if a.phase == PhaseDestroyed {
		a.rt.log.Warn("⚠️ Сообщение %s для уничтоженного блока %s отброшено", m.kind(), a.idx)
		return nil
	}

	switch msg := m.(type) {
	case startMsg:
		return a.onStart(msg)
	case enterMsg:
		return a.onEnter(msg)
	case stepMsg:
		if err := a.admit(msg.epoch, KindStep); err != nil {
			return err
		}
		a.rt.trace(a, KindStep, msg.epoch, msg.n)
		return a.step(msg.n, msg.epoch)
	case balanceMsg:
		return a.onBalance(msg)
	case refreshMsg:
		return a.onRefresh(msg)
	case barrierMsg:
		return a.onBarrier(msg)
	case depthMsg:
		if err := a.checkLevel(msg.level, KindDepth); err != nil {
			return err
		}
		return a.onDepth(msg)
	case coarsenVoteMsg:
		if err := a.checkLevel(msg.level, KindVote); err != nil {
			return err
		}
		return a.onCoarsenVote(msg)
	case destroyMsg:
		if err := a.checkLevel(msg.level, KindDestroy); err != nil {
			return err
		}
		a.destroy()
		return nil
	case requireMsg:
		if err := a.checkLevel(msg.level, KindRequire); err != nil {
			return err
		}
		return a.onRequire(msg)
	case inspectMsg:
		msg.reply <- a.info()
		return nil
	}
	return a.violation("unexpected message %T", m)
}

// admit пропускает рассылку корня новой эпохи. Ожидание барьера прошлой
// эпохи считается пройденным: корень рассылает только после тишины.
func (a *BlockActor) admit(epoch uint64, k Kind) error {
	if epoch <= a.epoch {
		return a.violation("%s epoch %d not after %d", k, epoch, a.epoch)
	}
	if a.waiting {
		a.clearWait()
	}
	if a.phase != PhaseIdle && a.phase != PhaseExited {
		return a.violation("%s while %s", k, a.phase)
	}
	a.epoch = epoch
	a.phase = PhaseIdle
	return nil
}

func (a *BlockActor) clearWait() {
	a.waiting = false
	a.waitReg = nil
	if a.phase == PhaseWaitingQuiescence {
		a.phase = PhaseIdle
	}
}

// awaitBarrier регистрирует after_quiescence/after_exit в детекторе
func (a *BlockActor) awaitBarrier(what barrierKind, n int) {
	a.phase = PhaseWaitingQuiescence
	a.waiting = true
	a.waitEpoch = a.epoch
	epoch := a.epoch
	idx := a.idx
	a.waitReg = a.rt.detector.AwaitQuiescence(func() {
		a.rt.send(idx, barrierMsg{what: what, n: n, epoch: epoch})
	})
}

func (a *BlockActor) onStart(m startMsg) error {
	if !a.idx.IsRoot() {
		return a.violation("start addressed to non-root block")
	}
	if a.phase != PhaseIdle && a.phase != PhaseExited {
		return a.violation("start of cycle %d while %s", m.cycle, a.phase)
	}
	a.phase = PhaseIdle
	a.rt.multicast(func(epoch uint64) message { return enterMsg{cycle: m.cycle, epoch: epoch} })
	return nil
}

// onEnter: enter(): remaining равен начальному максимуму уровня только
// в самом первом цикле симуляции, иначе 1.
func (a *BlockActor) onEnter(m enterMsg) error {
	if err := a.admit(m.epoch, KindEnter); err != nil {
		return err
	}
	a.cycle = m.cycle
	a.remaining = 1
	if m.cycle == a.rt.opts.InitialCycle {
		a.remaining = a.rt.opts.InitialMaxLevel
	}
	a.rt.trace(a, KindEnter, m.epoch, a.remaining)
	return a.step(a.remaining, m.epoch)
}

// step(n): листья оценивают критерии и применяют действие, затем каждый
// блок регистрирует барьер. При n == 0 регистрируется выход из цикла.
func (a *BlockActor) step(n int, epoch uint64) error {
	if a.idx.IsRoot() {
		a.rt.stats.phases.Add(1)
	}
	if n == 0 {
		a.remaining = 0
		a.awaitBarrier(barrierExit, 0)
		return nil
	}

	a.remaining = n - 1
	if a.IsLeaf() && a.coarsenedAt != epoch {
		a.phase = PhaseEvaluating
		action, err := a.determineRefine()
		if err != nil {
			return err
		}
		a.phase = PhasePropagating
		switch action {
		case adapt.Refine:
			if limit := a.rt.opts.MaxLevel; limit == 0 || a.Level() < limit {
				if err := a.refine(false); err != nil {
					return err
				}
			}
		case adapt.Coarsen:
			a.coarsen(epoch)
		}
	}
	a.awaitBarrier(barrierStep, n-1)
	return nil
}

// determineRefine сворачивает результаты критериев; не-листья не оцениваются
func (a *BlockActor) determineRefine() (adapt.Action, error) {
	if !a.IsLeaf() {
		return adapt.Unchanged, nil
	}
	return a.rt.opts.Criteria.Evaluate(a, &a.rt.opts.Fields)
}

// refine создаёт 2^rank детей через фабрику и отмечает слоты глубиной 1
func (a *BlockActor) refine(forced bool) error {
	if !a.IsLeaf() {
		return a.violation("refine of non-leaf block")
	}
	for slot := range a.depth {
		spec := BlockSpec{
			Index:          a.idx.Child(slot),
			Size:           a.size,
			Level:          a.Level() + 1,
			NumFieldBlocks: a.numFieldBlocks,
			Remaining:      a.remaining,
			Testing:        a.testing,
			Cycle:          a.cycle,
			Epoch:          a.epoch,
		}
		if err := a.rt.spawn(spec); err != nil {
			return err
		}
		a.versions[slot] = 0
		a.propagateDepth(slot, 1)
	}
	a.rt.blockRefined(a, forced)
	return nil
}

// coarsen: голос родителю. Корень огрублять нельзя: безопасный no-op.
func (a *BlockActor) coarsen(epoch uint64) {
	if a.idx.IsRoot() || !a.IsLeaf() {
		return
	}
	parent := a.idx.Parent()
	a.rt.send(parent, coarsenVoteMsg{level: parent.Level(), slot: a.idx.Selector(), epoch: epoch})
}

// propagateDepth(slot, d): локально depth[slot] = max(depth[slot], d),
// родителю уходит отчёт, только если изменилась собственная высота.
func (a *BlockActor) propagateDepth(slot, d int) {
	if d > a.depth[slot] {
		a.depth[slot] = d
	}
	a.reportHeight()
}

func (a *BlockActor) reportHeight() {
	if a.idx.IsRoot() {
		return
	}
	h := a.height()
	if h == a.reported {
		return
	}
	a.reported = h
	a.reportVersion++
	parent := a.idx.Parent()
	a.rt.send(parent, depthMsg{
		level:   parent.Level(),
		slot:    a.idx.Selector(),
		depth:   h + 1,
		version: a.reportVersion,
	})
}

func (a *BlockActor) onDepth(m depthMsg) error {
	if a.depth[m.slot] == 0 {
		return a.violation("depth report for empty slot %d", m.slot)
	}
	if m.version <= a.versions[m.slot] {
		return nil
	}
	a.versions[m.slot] = m.version
	a.depth[m.slot] = m.depth
	a.reportHeight()
	return nil
}

// onCoarsenVote собирает голоса детей одной эпохи. Когда проголосовали все
// и все они листья, дети уничтожаются, а уменьшение высоты уходит вверх.
func (a *BlockActor) onCoarsenVote(m coarsenVoteMsg) error {
	if a.IsLeaf() {
		return a.violation("coarsen vote from slot %d of a leaf", m.slot)
	}
	switch {
	case m.epoch < a.voteEpoch:
		return nil
	case m.epoch > a.voteEpoch:
		a.voteEpoch = m.epoch
		a.votes = 0
	}
	a.votes |= 1 << uint(m.slot)

	full := uint32(1)<<uint(len(a.depth)) - 1
	if a.votes != full {
		return nil
	}
	for _, d := range a.depth {
		if d != 1 {
			return nil
		}
	}

	for slot := range a.depth {
		child := a.idx.Child(slot)
		a.rt.send(child, destroyMsg{level: child.Level()})
		a.depth[slot] = 0
		a.versions[slot] = 0
	}
	a.votes = 0
	a.coarsenedAt = m.epoch
	a.rt.blockCoarsened(a)
	a.reportHeight()
	return nil
}

func (a *BlockActor) destroy() {
	if a.waitReg != nil {
		a.waitReg.Cancel()
	}
	a.waiting = false
	a.waitReg = nil
	a.phase = PhaseDestroyed
	a.rt.unregister(a)
}

// onBarrier: after_quiescence/after_exit. Действует только корень.
func (a *BlockActor) onBarrier(m barrierMsg) error {
	switch {
	case a.waiting && m.epoch == a.waitEpoch:
		a.clearWait()
	case m.epoch <= a.epoch:
		// барьер прошлой эпохи уже пройден новой рассылкой
		return nil
	default:
		return a.violation("barrier %s for epoch %d, waiting=%v epoch %d", m.what, m.epoch, a.waiting, a.waitEpoch)
	}

	if !a.idx.IsRoot() {
		return nil
	}
	switch m.what {
	case barrierStep:
		a.rt.multicast(func(epoch uint64) message { return stepMsg{n: m.n, epoch: epoch} })
	case barrierExit:
		a.beginBalance()
	case barrierBalance:
		a.nextBalance(m.n)
	case barrierRefresh:
		a.phase = PhaseExited
		a.rt.complete(a.cycle, a.height())
	}
	return nil
}

func (a *BlockActor) onRefresh(m refreshMsg) error {
	if err := a.admit(m.epoch, KindRefresh); err != nil {
		return err
	}
	a.rt.trace(a, KindRefresh, m.epoch, 0)
	a.cycle = m.cycle
	a.remaining = 0
	if a.idx.IsRoot() {
		a.awaitBarrier(barrierRefresh, 0)
	}
	return nil
}

func (a *BlockActor) info() BlockInfo {
	return BlockInfo{
		Index: a.idx,
		Level: a.Level(),
		Depth: append([]int(nil), a.depth...),
		Leaf:  a.IsLeaf(),
	}
}
