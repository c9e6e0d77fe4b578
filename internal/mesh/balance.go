package mesh

import "github.com/annel0/amr-mesh/internal/index"

// Балансировка 2:1 идёт раундами от самого мелкого уровня листьев к крупным.
// В раунде L каждый лист уровня L требует, чтобы через каждую его грань
// существовала область уровня не ниже L-1. Вынужденное уточнение создаёт
// только блоки уровня < L, поэтому набор листьев уровня L за раунд не меняется.

// beginBalance вызывается корнем после барьера выхода: высота корня точна
func (a *BlockActor) beginBalance() {
	top := a.height()
	if top < 2 {
		a.finishCycle()
		return
	}
	a.rt.multicast(func(epoch uint64) message { return balanceMsg{round: top, epoch: epoch} })
}

func (a *BlockActor) nextBalance(round int) {
	if round-1 < 2 {
		a.finishCycle()
		return
	}
	a.rt.multicast(func(epoch uint64) message { return balanceMsg{round: round - 1, epoch: epoch} })
}

// finishCycle рассылает завершение цикла (обновление гало вне этого слоя)
func (a *BlockActor) finishCycle() {
	cycle := a.cycle
	a.rt.multicast(func(epoch uint64) message { return refreshMsg{cycle: cycle, epoch: epoch} })
}

func (a *BlockActor) onBalance(m balanceMsg) error {
	if err := a.admit(m.epoch, KindBalance); err != nil {
		return err
	}
	a.rt.trace(a, KindBalance, m.epoch, m.round)
	if a.idx.IsRoot() {
		a.rt.stats.balanceRounds.Add(1)
	}
	if a.IsLeaf() && a.Level() == m.round {
		a.balance(m.epoch)
	}
	a.awaitBarrier(barrierBalance, m.round)
	return nil
}

// balance отправляет требования через каждую грань. Решение принимается
// только по собственному индексу блока: если область соседа лежит внутри
// родителя, она заведомо существует. Остальные требования идут по дереву.
func (a *BlockActor) balance(epoch uint64) {
	need := a.Level() - 1
	for _, face := range index.Faces(a.Rank()) {
		nb, ok := a.idx.Neighbor(face.Axis, face.Dir, a.rt.opts.Boundary)
		if !ok {
			continue
		}
		target := nb.Parent()
		if target.IsAncestorOf(a.idx) {
			continue
		}
		parent := a.idx.Parent()
		a.rt.send(parent, requireMsg{level: parent.Level(), target: target, need: need, epoch: epoch})
	}
}

// onRequire: требование поднимается до общего предка блока и target,
// затем спускается к target. Лист грубее требуемого уточняется вынужденно.
// Во время балансировки блоки только появляются, поэтому путь по дереву
// не может оборваться.
func (a *BlockActor) onRequire(m requireMsg) error {
	a.rt.trace(a, KindRequire, m.epoch, m.need)
	if !a.idx.IsAncestorOf(m.target) {
		if a.idx.IsRoot() {
			return a.violation("require for %s outside the domain", m.target)
		}
		parent := a.idx.Parent()
		a.rt.send(parent, requireMsg{level: parent.Level(), target: m.target, need: m.need, epoch: m.epoch})
		return nil
	}
	if a.Level() >= m.need {
		return nil
	}
	if a.IsLeaf() {
		if err := a.refine(true); err != nil {
			return err
		}
	}
	if a.Level()+1 >= m.need {
		return nil
	}
	next := m.target.AncestorAt(a.Level() + 1)
	a.rt.send(next, requireMsg{level: next.Level(), target: m.target, need: m.need, epoch: m.epoch})
	return nil
}
