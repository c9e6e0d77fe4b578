package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/amr-mesh/internal/adapt"
	"github.com/annel0/amr-mesh/internal/config"
	"github.com/annel0/amr-mesh/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Delivery = config.DeliveryConfig{Mode: "random", Seed: 7}
	cfg.Quiescence.TimeoutSeconds = 10
	return cfg
}

func newDriver(t *testing.T, cfg *config.Config, store storage.SnapshotStore) *Driver {
	t.Helper()
	rt, err := NewRuntimeFromConfig(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Close() })
	return NewDriver(rt, store)
}

func TestBuildCriteria(t *testing.T) {
	set, err := BuildCriteria([]config.CriterionConfig{
		{Type: "max_level", Level: 3},
		{Type: "constant", Action: "unchanged"},
		{Type: "point", Point: []float64{0.1, 0.2}},
		{Type: "noise", Noise: config.NoiseConfig{Seed: ptr(int64(5))}},
	}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
	assert.Contains(t, set.Names(), "max_level(3)")
	assert.Contains(t, set.Names(), "noise(seed=5)")
}

func ptr[T any](v T) *T { return &v }

func TestNoiseParamsExplicitZero(t *testing.T) {
	defaults := adapt.DefaultNoiseParams()

	p := noiseParams(config.NoiseConfig{}, 0)
	assert.Equal(t, defaults, p, "пустая секция оставляет значения по умолчанию")

	p = noiseParams(config.NoiseConfig{
		Seed:         ptr(int64(0)),
		RefineAbove:  ptr(0.8),
		CoarsenBelow: ptr(0.0),
	}, 6)
	assert.Equal(t, int64(0), p.Seed)
	assert.Equal(t, 0.8, p.RefineAbove)
	assert.Equal(t, 0.0, p.CoarsenBelow, "явный ноль не считается пропуском")
	assert.Equal(t, 6, p.MaxLevel)
	assert.Equal(t, defaults.Frequency, p.Frequency)
}

func TestBuildCriteriaErrors(t *testing.T) {
	cases := map[string]config.CriterionConfig{
		"неизвестный тип":      {Type: "gradient"},
		"max_level без уровня": {Type: "max_level"},
		"неверное действие":    {Type: "constant", Action: "explode"},
		"точка без координат":  {Type: "point", Level: 2},
		"точка без уровня":     {Type: "point", Point: []float64{0.5}},
		"слишком много осей":   {Type: "point", Level: 2, Point: []float64{0, 0, 0, 0}},
	}
	for name, cc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildCriteria([]config.CriterionConfig{cc}, 0)
			assert.Error(t, err)
		})
	}
}

func TestBuildDelivery(t *testing.T) {
	for _, mode := range []string{"", "concurrent", "random"} {
		d, err := BuildDelivery(config.DeliveryConfig{Mode: mode})
		require.NoError(t, err, mode)
		assert.NotNil(t, d)
	}
	_, err := BuildDelivery(config.DeliveryConfig{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewRuntimeFromConfigRejectsBadBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.Mesh.Boundary = "mirror"
	_, err := NewRuntimeFromConfig(cfg, nil, nil)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, err := OpenStore(ctx, config.StorageConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = OpenStore(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)

	store, err = OpenStore(ctx, config.StorageConfig{Backend: "badger", Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = OpenStore(ctx, config.StorageConfig{Backend: "tape"})
	assert.Error(t, err)
}

func TestOpenBusInMemory(t *testing.T) {
	bus, err := OpenBus(config.EventBusConfig{})
	require.NoError(t, err)
	require.NoError(t, bus.Close())
}

func TestDriverStepSavesSnapshots(t *testing.T) {
	store := storage.NewMemoryStore()
	d := newDriver(t, testConfig(), store)

	_, ok := d.LastReport()
	assert.False(t, ok)

	report, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Cycle)
	assert.Equal(t, 21, report.Blocks)
	assert.Equal(t, 2, report.MaxLevel)

	last, ok := d.LastReport()
	require.True(t, ok)
	assert.Equal(t, report, last)

	rec, err := store.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, report, rec.Report)
	assert.Equal(t, []int{1, 4, 16}, rec.Snapshot.CountByLevel())
	assert.Empty(t, rec.Snapshot.Graded(d.Runtime().Options().Boundary))

	// Повторный шаг на сбалансированном дереве ничего не меняет
	report, err = d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cycle)
	assert.Equal(t, 21, report.Blocks)
	assert.Zero(t, report.Refined)
	assert.Zero(t, report.ForcedRefines)
}

func TestDriverRun(t *testing.T) {
	store := storage.NewMemoryStore()
	d := newDriver(t, testConfig(), store)

	require.NoError(t, d.Run(context.Background(), 3, time.Millisecond))

	cycles, err := store.Cycles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, cycles)
	assert.Equal(t, 2, d.Runtime().LastCycle())
}

func TestDriverRunStopsOnCancel(t *testing.T) {
	d := newDriver(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, 0, 5*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("драйвер не остановился после отмены контекста")
	}
}

func TestDriverRunStopsOnProtocolFailure(t *testing.T) {
	cfg := testConfig()
	rt, err := NewRuntimeFromConfig(cfg, nil, nil)
	require.NoError(t, err)
	// Критерий, возвращающий недопустимый результат, останавливает протокол
	rt.Options().Criteria.Add(adapt.Func("broken", func(adapt.Block, *adapt.FieldDescr) adapt.Action {
		return adapt.Action(7)
	}))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Close() })

	d := NewDriver(rt, nil)
	err = d.Run(context.Background(), 2, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStopped)
	assert.NotNil(t, rt.Err())
}
