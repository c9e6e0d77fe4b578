package mesh

import (
	"errors"
	"fmt"

	"github.com/annel0/amr-mesh/internal/index"
)

var (
	// ErrCycleInProgress: предыдущий цикл адаптации ещё не завершён
	ErrCycleInProgress = errors.New("mesh: adaptation cycle in progress")
	// ErrClosed: runtime остановлен
	ErrClosed = errors.New("mesh: runtime closed")
	// ErrNotStarted: Adapt или Snapshot вызваны до Start
	ErrNotStarted = errors.New("mesh: runtime not started")
)

// ProtocolViolation: нарушение протокола адаптации. Фатально, повторов нет.
type ProtocolViolation struct {
	Index  index.Index
	Level  int
	Phase  Phase
	Detail string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation at block %s (level %d, phase %s): %s",
		e.Index, e.Level, e.Phase, e.Detail)
}
