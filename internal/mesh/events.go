package mesh

import (
	"context"
	"strconv"
	"time"

	"github.com/annel0/amr-mesh/internal/eventbus"
	"github.com/annel0/amr-mesh/internal/index"
)

// EventSource: значение Envelope.Source для событий сетки
const EventSource = "mesh"

// BlockEvent: полезная нагрузка событий об изменении структуры дерева
type BlockEvent struct {
	Cycle int         `json:"cycle"`
	Index index.Index `json:"index"`
	Level int         `json:"level"`
}

func (rt *Runtime) blockRefined(a *BlockActor, forced bool) {
	rt.stats.refined.Add(1)
	eventType := eventbus.TypeBlockRefined
	if forced {
		rt.stats.forced.Add(1)
		eventType = eventbus.TypeBalanceRefine
	}
	rt.opts.Metrics.refined(forced)
	rt.log.Debug("🔀 Блок %s уточнён (forced=%v)", a.idx, forced)
	rt.publish(eventType, BlockEvent{Cycle: a.cycle, Index: a.idx, Level: a.Level()})
}

func (rt *Runtime) blockCoarsened(a *BlockActor) {
	rt.stats.coarsened.Add(1)
	rt.opts.Metrics.coarsened()
	rt.log.Debug("🔁 Блок %s поглотил детей", a.idx)
	rt.publish(eventbus.TypeBlockCoarsened, BlockEvent{Cycle: a.cycle, Index: a.idx, Level: a.Level()})
}

// publish отправляет событие в шину, если она задана. Ошибка шины не
// влияет на протокол и только пишется в лог.
func (rt *Runtime) publish(eventType string, payload interface{}) {
	if rt.opts.Bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(EventSource, eventType, payload)
	if err != nil {
		rt.log.Warn("⚠️ Событие %s не сформировано: %v", eventType, err)
		return
	}
	ev.CorrelationID = "cycle-" + strconv.FormatInt(rt.active.Load(), 10)
	if eventType == eventbus.TypeProtocolViolation || eventType == eventbus.TypeAdaptCycleComplete {
		ev.Priority = 9
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.opts.Bus.Publish(ctx, ev); err != nil {
		rt.log.Warn("⚠️ Событие %s не опубликовано: %v", eventType, err)
	}
}
