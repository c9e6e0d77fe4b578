// Package simulation гоняет циклы адаптации поверх mesh.Runtime:
// по одному циклу на шаг, со снимком дерева после каждого цикла.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/amr-mesh/internal/logging"
	"github.com/annel0/amr-mesh/internal/mesh"
	"github.com/annel0/amr-mesh/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("amr.simulation")

const busyBackoff = 10 * time.Millisecond

// ErrStopped: драйвер остановлен из-за фатальной ошибки runtime
var ErrStopped = errors.New("simulation stopped")

// Driver последовательно выполняет циклы адаптации
type Driver struct {
	rt    *mesh.Runtime
	store storage.SnapshotStore // может быть nil
	log   *logging.Logger

	mu      sync.Mutex // один шаг за раз
	stateMu sync.RWMutex
	last    *mesh.CycleReport
}

// NewDriver создаёт драйвер. store может быть nil: тогда снимки не сохраняются.
func NewDriver(rt *mesh.Runtime, store storage.SnapshotStore) *Driver {
	return &Driver{
		rt:    rt,
		store: store,
		log:   logging.GetSimulationLogger(),
	}
}

// Runtime возвращает управляемый runtime
func (d *Driver) Runtime() *mesh.Runtime { return d.rt }

// Store возвращает хранилище снимков (nil, если не настроено)
func (d *Driver) Store() storage.SnapshotStore { return d.store }

// LastReport возвращает отчёт последнего выполненного шага
func (d *Driver) LastReport() (mesh.CycleReport, bool) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	if d.last == nil {
		return mesh.CycleReport{}, false
	}
	return *d.last, true
}

// Step выполняет следующий цикл адаптации и сохраняет снимок.
// Если другой шаг ещё идёт, возвращает mesh.ErrCycleInProgress.
func (d *Driver) Step(ctx context.Context) (mesh.CycleReport, error) {
	if !d.mu.TryLock() {
		return mesh.CycleReport{}, mesh.ErrCycleInProgress
	}
	defer d.mu.Unlock()

	cycle := d.rt.LastCycle() + 1
	ctx, span := tracer.Start(ctx, "mesh.AdaptCycle")
	defer span.End()
	span.SetAttributes(attribute.Int("amr.cycle", cycle))

	report, err := d.rt.Adapt(ctx, cycle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return mesh.CycleReport{}, fmt.Errorf("cycle %d: %w", cycle, err)
	}
	span.SetAttributes(
		attribute.Int("amr.blocks", report.Blocks),
		attribute.Int("amr.max_level", report.MaxLevel),
		attribute.Int("amr.refined", report.Refined),
		attribute.Int("amr.coarsened", report.Coarsened),
		attribute.Int("amr.forced_refines", report.ForcedRefines),
		attribute.Int("amr.balance_rounds", report.BalanceRounds),
	)

	d.stateMu.Lock()
	d.last = &report
	d.stateMu.Unlock()

	if d.store != nil {
		if err := d.save(ctx, report); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "snapshot save failed")
			return report, err
		}
	}

	d.log.Info("✅ Цикл %d: %d блоков, глубина %d, +%d/-%d (вынужденно %d), %s",
		report.Cycle, report.Blocks, report.MaxLevel, report.Refined, report.Coarsened,
		report.ForcedRefines, report.Duration)
	span.SetStatus(codes.Ok, "")
	return report, nil
}

func (d *Driver) save(ctx context.Context, report mesh.CycleReport) error {
	ctx, span := tracer.Start(ctx, "mesh.SaveSnapshot")
	defer span.End()

	snap, err := d.rt.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot cycle %d: %w", report.Cycle, err)
	}
	rec := &storage.Record{
		Cycle:    report.Cycle,
		SavedAt:  time.Now().UTC(),
		Report:   report,
		Snapshot: snap,
	}
	if err := d.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save cycle %d: %w", report.Cycle, err)
	}
	return nil
}

// Run выполняет cycles циклов (0 означает работу до отмены ctx) с паузой interval между ними.
// Занятость runtime (цикл запущен через API) не считается ошибкой: шаг пропускается.
func (d *Driver) Run(ctx context.Context, cycles int, interval time.Duration) error {
	d.log.Info("🚀 Запуск драйвера: циклов=%d, интервал=%s", cycles, interval)

	for done := 0; cycles == 0 || done < cycles; {
		wait := interval
		_, err := d.Step(ctx)
		switch {
		case err == nil:
			done++
		case errors.Is(err, mesh.ErrCycleInProgress):
			d.log.Debug("⏳ Runtime занят, пропускаем шаг")
			if wait <= 0 {
				wait = busyBackoff
			}
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			if d.rt.Err() != nil {
				d.log.Error("💥 Протокол остановлен: %v", err)
				return fmt.Errorf("%w: %v", ErrStopped, err)
			}
			return err
		}

		if wait <= 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	d.log.Info("🏁 Драйвер завершил %d циклов", cycles)
	return nil
}
