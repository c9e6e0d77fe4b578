package mesh

import "github.com/annel0/amr-mesh/internal/index"

// Kind различает сообщения протокола в трассировке и метриках
type Kind string

const (
	KindStart   Kind = "start"
	KindEnter   Kind = "enter"
	KindStep    Kind = "step"
	KindBalance Kind = "balance"
	KindRefresh Kind = "refresh"
	KindBarrier Kind = "barrier"
	KindDepth   Kind = "depth"
	KindVote    Kind = "coarsen_vote"
	KindDestroy Kind = "destroy"
	KindRequire Kind = "require"
	KindInspect Kind = "inspect"
)

type message interface {
	kind() Kind
}

// Рассылки корня. Каждая несёт эпоху: строго растущий номер рассылки.

// startMsg запускает цикл; адресуется только корню
type startMsg struct {
	cycle int
}

type enterMsg struct {
	cycle int
	epoch uint64
}

type stepMsg struct {
	n     int
	epoch uint64
}

type balanceMsg struct {
	round int // уровень листьев, проверяемых в этом раунде
	epoch uint64
}

type refreshMsg struct {
	cycle int
	epoch uint64
}

// barrierKind: на что была зарегистрирована регистрация барьера
type barrierKind int

const (
	barrierStep barrierKind = iota
	barrierExit
	barrierBalance
	barrierRefresh
)

func (k barrierKind) String() string {
	switch k {
	case barrierStep:
		return "step"
	case barrierExit:
		return "exit"
	case barrierBalance:
		return "balance"
	case barrierRefresh:
		return "refresh"
	}
	return "unknown"
}

// barrierMsg блок посылает сам себе, когда срабатывает барьер тишины
type barrierMsg struct {
	what  barrierKind
	n     int
	epoch uint64
}

// Сообщения с адресом уровня: поле level должно совпадать с уровнем получателя.

// depthMsg: отчёт ребёнка о своей высоте. version растёт у отправителя,
// получатель применяет только более новый отчёт по слоту.
type depthMsg struct {
	level   int
	slot    int
	depth   int
	version uint64
}

type coarsenVoteMsg struct {
	level int
	slot  int
	epoch uint64
}

type destroyMsg struct {
	level int
}

// requireMsg требует, чтобы область target существовала на уровне не ниже need.
// epoch: раунд балансировки, породивший требование.
type requireMsg struct {
	level  int
	target index.Index
	need   int
	epoch  uint64
}

type inspectMsg struct {
	reply chan<- BlockInfo
}

func (startMsg) kind() Kind       { return KindStart }
func (enterMsg) kind() Kind       { return KindEnter }
func (stepMsg) kind() Kind        { return KindStep }
func (balanceMsg) kind() Kind     { return KindBalance }
func (refreshMsg) kind() Kind     { return KindRefresh }
func (barrierMsg) kind() Kind     { return KindBarrier }
func (depthMsg) kind() Kind       { return KindDepth }
func (coarsenVoteMsg) kind() Kind { return KindVote }
func (destroyMsg) kind() Kind     { return KindDestroy }
func (requireMsg) kind() Kind     { return KindRequire }
func (inspectMsg) kind() Kind     { return KindInspect }
