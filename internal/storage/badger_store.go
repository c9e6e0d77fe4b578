package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/annel0/amr-mesh/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

const badgerPrefix = "snapshot:"

// BadgerStore хранит снимки в BadgerDB под ключами snapshot:<cycle>
type BadgerStore struct {
	db      *badger.DB
	codec   *Codec
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает БД в каталоге dataPath/snapshots.
// Пустой dataPath открывает БД в памяти (для тестов).
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	var opts badger.Options
	if dataPath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(dataPath, "snapshots"))
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	codec, err := NewCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	logging.GetStorageLogger().Info("💾 BadgerDB хранилище снимков открыто (%s)", opts.Dir)
	return &BadgerStore{db: db, codec: codec, isReady: true}, nil
}

func (bs *BadgerStore) ready() error {
	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return nil
}

// Save записывает снимок цикла, перезаписывая прежний
func (bs *BadgerStore) Save(ctx context.Context, rec *Record) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()
	if err := bs.ready(); err != nil {
		return err
	}

	data, err := bs.codec.Encode(rec)
	if err != nil {
		return err
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey("", rec.Cycle)), data)
	})
}

// Load читает снимок цикла
func (bs *BadgerStore) Load(ctx context.Context, cycle int) (*Record, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()
	if err := bs.ready(); err != nil {
		return nil, err
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey("", cycle)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("cycle %d: %w", cycle, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return bs.codec.Decode(data)
}

// Latest возвращает снимок с наибольшим номером цикла
func (bs *BadgerStore) Latest(ctx context.Context) (*Record, error) {
	cycles, err := bs.Cycles(ctx)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, ErrNotFound
	}
	return bs.Load(ctx, cycles[len(cycles)-1])
}

// Cycles перечисляет сохранённые циклы по возрастанию
func (bs *BadgerStore) Cycles(ctx context.Context) ([]int, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()
	if err := bs.ready(); err != nil {
		return nil, err
	}

	var cycles []int
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), badgerPrefix)
			cycle, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			cycles = append(cycles, cycle)
		}
		return nil
	})
	sort.Ints(cycles)
	return cycles, err
}

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}
	bs.isReady = false
	bs.codec.Close()
	return bs.db.Close()
}
