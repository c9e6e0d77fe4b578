package simulation

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/annel0/amr-mesh/internal/adapt"
	"github.com/annel0/amr-mesh/internal/config"
	"github.com/annel0/amr-mesh/internal/eventbus"
	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/mesh"
	"github.com/annel0/amr-mesh/internal/storage"
	"github.com/annel0/amr-mesh/internal/vec"
)

// BuildCriteria создаёт набор критериев из конфигурации.
// Для point и noise уровень по умолчанию берётся из mesh.max_level.
func BuildCriteria(list []config.CriterionConfig, meshMaxLevel int) (*adapt.Set, error) {
	set := adapt.NewSet()
	for i, cc := range list {
		c, err := buildCriterion(cc, meshMaxLevel)
		if err != nil {
			return nil, fmt.Errorf("criteria[%d]: %w", i, err)
		}
		set.Add(c)
	}
	return set, nil
}

func buildCriterion(cc config.CriterionConfig, meshMaxLevel int) (adapt.Criterion, error) {
	level := cc.Level
	if level == 0 {
		level = meshMaxLevel
	}

	switch cc.Type {
	case "max_level":
		if cc.Level <= 0 {
			return nil, fmt.Errorf("max_level: level must be > 0")
		}
		return adapt.MaxLevel(cc.Level), nil
	case "constant":
		a, err := adapt.ParseAction(cc.Action)
		if err != nil {
			return nil, err
		}
		return adapt.Constant(a), nil
	case "point":
		if len(cc.Point) == 0 || len(cc.Point) > 3 {
			return nil, fmt.Errorf("point: want 1..3 coordinates, got %d", len(cc.Point))
		}
		if level <= 0 {
			return nil, fmt.Errorf("point: level is required when mesh.max_level is 0")
		}
		var p vec.Vec3Float
		for axis, v := range cc.Point {
			switch axis {
			case 0:
				p.X = v
			case 1:
				p.Y = v
			case 2:
				p.Z = v
			}
		}
		return adapt.Point(p, level), nil
	case "noise":
		return adapt.Noise(noiseParams(cc.Noise, level)), nil
	}
	return nil, fmt.Errorf("unknown criterion type %q", cc.Type)
}

// noiseParams накладывает заданные поля на параметры по умолчанию
func noiseParams(n config.NoiseConfig, level int) adapt.NoiseParams {
	params := adapt.DefaultNoiseParams()
	if n.Seed != nil {
		params.Seed = *n.Seed
	}
	if n.Alpha != nil {
		params.Alpha = *n.Alpha
	}
	if n.Beta != nil {
		params.Beta = *n.Beta
	}
	if n.Octaves != nil {
		params.Octaves = *n.Octaves
	}
	if n.Frequency != nil {
		params.Frequency = *n.Frequency
	}
	if n.RefineAbove != nil {
		params.RefineAbove = *n.RefineAbove
	}
	if n.CoarsenBelow != nil {
		params.CoarsenBelow = *n.CoarsenBelow
	}
	if level > 0 {
		params.MaxLevel = level
	}
	return params
}

// BuildDelivery выбирает стратегию доставки
func BuildDelivery(dc config.DeliveryConfig) (mesh.Delivery, error) {
	switch dc.Mode {
	case "", "concurrent":
		return mesh.ConcurrentDelivery(), nil
	case "random":
		return mesh.RandomDelivery(dc.Seed), nil
	}
	return nil, fmt.Errorf("unknown delivery mode %q", dc.Mode)
}

// NewRuntimeFromConfig собирает mesh.Runtime по конфигурации.
// bus и metrics могут быть nil.
func NewRuntimeFromConfig(cfg *config.Config, bus eventbus.EventBus, metrics *mesh.Metrics) (*mesh.Runtime, error) {
	boundary, err := index.ParseBoundary(cfg.Mesh.Boundary)
	if err != nil {
		return nil, err
	}
	criteria, err := BuildCriteria(cfg.Criteria, cfg.Mesh.MaxLevel)
	if err != nil {
		return nil, err
	}
	delivery, err := BuildDelivery(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	size := cfg.Mesh.BlockSize
	return mesh.NewRuntime(mesh.Options{
		Rank:              cfg.Mesh.Rank,
		BlockSize:         vec.Vec3{X: size[0], Y: size[1], Z: size[2]},
		NumFieldBlocks:    cfg.Mesh.NumFieldBlocks,
		InitialCycle:      cfg.Mesh.InitialCycle,
		InitialMaxLevel:   cfg.Mesh.InitialMaxLevel,
		MaxLevel:          cfg.Mesh.MaxLevel,
		Boundary:          boundary,
		Testing:           cfg.Mesh.Testing,
		Criteria:          criteria,
		Fields:            adapt.FieldDescr{Fields: cfg.Mesh.Fields},
		Delivery:          delivery,
		QuiescenceTimeout: cfg.Quiescence.Timeout(),
		Metrics:           metrics,
		Bus:               bus,
	})
}

// OpenStore открывает хранилище снимков; для backend "none" возвращает nil
func OpenStore(ctx context.Context, sc config.StorageConfig) (storage.SnapshotStore, error) {
	switch sc.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return storage.NewMemoryStore(), nil
	case "badger":
		return storage.NewBadgerStore(filepath.Clean(sc.Path))
	case "redis":
		rc := storage.DefaultRedisConfig()
		if sc.RedisAddr != "" {
			rc.Addr = sc.RedisAddr
		}
		rc.DB = sc.RedisDB
		if sc.KeyPrefix != "" {
			rc.KeyPrefix = sc.KeyPrefix + ":"
		}
		return storage.NewRedisStore(ctx, rc)
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

// OpenBus подключается к JetStream или, если URL пуст, создаёт шину в памяти
func OpenBus(ec config.EventBusConfig) (eventbus.EventBus, error) {
	if ec.URL == "" {
		return eventbus.NewMemoryBus(1024), nil
	}
	return eventbus.NewJetStreamBus(ec.URL, ec.Stream, time.Duration(ec.Retention)*time.Hour)
}
