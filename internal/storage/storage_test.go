package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(cycle int) *Record {
	root := index.Root()
	snap := &mesh.Snapshot{
		Cycle: cycle,
		Rank:  2,
		Blocks: []mesh.BlockInfo{
			{Index: root, Level: 0, Depth: []int{1, 1, 1, 1}},
		},
	}
	for s := 0; s < 4; s++ {
		snap.Blocks = append(snap.Blocks, mesh.BlockInfo{Index: root.Child(s), Level: 1, Depth: []int{0, 0, 0, 0}, Leaf: true})
	}
	return &Record{
		Cycle:    cycle,
		SavedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Report:   mesh.CycleReport{Cycle: cycle, Refined: 1, Blocks: 5, MaxLevel: 1},
		Snapshot: snap,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	rec := sampleRecord(3)
	data, err := codec.Encode(rec)
	require.NoError(t, err)

	back, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec, back)

	_, err = codec.Decode([]byte("not zstd"))
	assert.Error(t, err)
}

// exerciseStore прогоняет общий контракт SnapshotStore
func exerciseStore(t *testing.T, store SnapshotStore) {
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.True(t, errors.Is(err, ErrNotFound), "пустое хранилище: %v", err)

	for _, c := range []int{2, 10, 1} {
		require.NoError(t, store.Save(ctx, sampleRecord(c)))
	}

	cycles, err := store.Cycles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, cycles)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, latest.Cycle)
	assert.Len(t, latest.Snapshot.Leaves(), 4)

	rec, err := store.Load(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(2), rec)

	_, err = store.Load(ctx, 7)
	assert.True(t, errors.Is(err, ErrNotFound))

	// Повторное сохранение перезаписывает запись
	upd := sampleRecord(2)
	upd.Report.Coarsened = 4
	require.NoError(t, store.Save(ctx, upd))
	rec, err = store.Load(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Report.Coarsened)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestBadgerStoreInMemory(t *testing.T) {
	store, err := NewBadgerStore("")
	require.NoError(t, err)
	exerciseStore(t, store)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие безопасно")

	err = store.Save(context.Background(), sampleRecord(1))
	assert.Error(t, err, "запись после закрытия должна вернуть ошибку")
}

func TestBadgerStoreOnDisk(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleRecord(5)))
	require.NoError(t, store.Close())

	// Данные переживают переоткрытие
	store, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()

	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Cycle)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("AMR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AMR_TEST_REDIS_ADDR не задан, пропускаем тест Redis")
	}

	ctx := context.Background()
	prefix := "amr-test-" + time.Now().Format("150405.000000") + ":"
	store, err := NewRedisStore(ctx, &RedisConfig{Addr: addr, DB: 15, KeyPrefix: prefix})
	require.NoError(t, err)
	defer func() {
		keys, _ := store.client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			store.client.Del(ctx, keys...)
		}
		store.Close()
	}()

	exerciseStore(t, store)
}
