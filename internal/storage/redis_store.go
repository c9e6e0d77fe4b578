package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/annel0/amr-mesh/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "amr:",
	}
}

// RedisStore хранит сжатые снимки строками, а номера циклов хранит в sorted set
type RedisStore struct {
	client    redis.UniversalClient
	codec     *Codec
	keyPrefix string
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store, err := NewRedisStoreWithClient(client, config.KeyPrefix)
	if err != nil {
		client.Close()
		return nil, err
	}
	logging.GetStorageLogger().Info("💾 Redis хранилище снимков подключено (%s)", config.Addr)
	return store, nil
}

// NewRedisStoreWithClient использует готовый клиент (например, кластерный)
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) (*RedisStore, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client, codec: codec, keyPrefix: keyPrefix}, nil
}

func (rs *RedisStore) indexKey() string { return rs.keyPrefix + "cycles" }

// Save пишет снимок и добавляет цикл в индекс одной транзакцией
func (rs *RedisStore) Save(ctx context.Context, rec *Record) error {
	data, err := rs.codec.Encode(rec)
	if err != nil {
		return err
	}
	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKey(rs.keyPrefix, rec.Cycle), data, 0)
		pipe.ZAdd(ctx, rs.indexKey(), &redis.Z{Score: float64(rec.Cycle), Member: strconv.Itoa(rec.Cycle)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save cycle %d: %w", rec.Cycle, err)
	}
	return nil
}

// Load читает снимок цикла
func (rs *RedisStore) Load(ctx context.Context, cycle int) (*Record, error) {
	data, err := rs.client.Get(ctx, snapshotKey(rs.keyPrefix, cycle)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cycle %d: %w", cycle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis load cycle %d: %w", cycle, err)
	}
	return rs.codec.Decode(data)
}

// Latest возвращает снимок с наибольшим номером цикла
func (rs *RedisStore) Latest(ctx context.Context) (*Record, error) {
	members, err := rs.client.ZRevRange(ctx, rs.indexKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis latest: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	cycle, err := strconv.Atoi(members[0])
	if err != nil {
		return nil, fmt.Errorf("redis latest: bad member %q", members[0])
	}
	return rs.Load(ctx, cycle)
}

// Cycles перечисляет сохранённые циклы по возрастанию
func (rs *RedisStore) Cycles(ctx context.Context) ([]int, error) {
	members, err := rs.client.ZRange(ctx, rs.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cycles: %w", err)
	}
	cycles := make([]int, 0, len(members))
	for _, m := range members {
		if c, err := strconv.Atoi(m); err == nil {
			cycles = append(cycles, c)
		}
	}
	return cycles, nil
}

// Close закрывает соединение
func (rs *RedisStore) Close() error {
	rs.codec.Close()
	return rs.client.Close()
}
