package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cyclePayload struct {
	Cycle  int `json:"cycle"`
	Blocks int `json:"blocks"`
}

func TestMemoryBusOrderedDelivery(t *testing.T) {
	bus := NewMemoryBus(64)
	ctx := context.Background()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	_, err := bus.Subscribe(ctx, Filter{Types: []string{TypeAdaptCycleComplete}}, func(_ context.Context, ev *Envelope) {
		var p cyclePayload
		require.NoError(t, ev.Decode(&p))
		mu.Lock()
		got = append(got, p.Cycle)
		if len(got) == 10 {
			close(done)
		}
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ev, err := NewEnvelope("test", TypeAdaptCycleComplete, cyclePayload{Cycle: i, Blocks: 21})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, ev))
		// Событие другого типа подписчик не получает
		other, _ := NewEnvelope("test", TypeBlockRefined, cyclePayload{})
		require.NoError(t, bus.Publish(ctx, other))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("события не доставлены")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)

	require.NoError(t, bus.Close())
	stats := bus.Metrics()
	assert.Equal(t, uint64(20), stats.Published)
	assert.Equal(t, uint64(10), stats.Consumed)

	ev, _ := NewEnvelope("test", TypeBlockRefined, nil)
	assert.ErrorIs(t, bus.Publish(ctx, ev), ErrClosed)
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx := context.Background()

	block := make(chan struct{})
	_, err := bus.Subscribe(ctx, Filter{}, func(context.Context, *Envelope) { <-block })
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ev, _ := NewEnvelope("test", TypeBlockRefined, i)
		require.NoError(t, bus.Publish(ctx, ev))
	}
	assert.Greater(t, bus.Metrics().Dropped, uint64(0))
	close(block)
	require.NoError(t, bus.Close())
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	ctx := context.Background()

	calls := make(chan struct{}, 4)
	sub, err := bus.Subscribe(ctx, Filter{Sources: []string{"mesh"}}, func(context.Context, *Envelope) { calls <- struct{}{} })
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, _ := NewEnvelope("mesh", TypeBlockRefined, nil)
	require.NoError(t, bus.Publish(ctx, ev))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, calls, 0)
}

func TestEnvelopeFields(t *testing.T) {
	ev, err := NewEnvelope("mesh", TypeBlockCoarsened, map[string]string{"block": "r.1"})
	require.NoError(t, err)
	assert.Len(t, ev.ID, 36)
	assert.Equal(t, 1, ev.Version)
	assert.JSONEq(t, `{"block":"r.1"}`, string(ev.Payload))
	assert.Equal(t, "mesh.BlockCoarsened", Subject(ev.EventType))
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg, time.Hour)

	ev, _ := NewEnvelope("mesh", TypeBlockRefined, nil)
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))

	prev := me.Collect(Stats{})
	assert.Equal(t, 2.0, testutil.ToFloat64(me.published))
	me.Collect(prev)
	assert.Equal(t, 2.0, testutil.ToFloat64(me.published), "дельта не должна учитываться дважды")

	// Повторная регистрация в том же реестре переиспользует коллекторы
	again := NewMetricsExporter(bus, reg, time.Hour)
	assert.Equal(t, 2.0, testutil.ToFloat64(again.published))
}
