// Package storage сохраняет снимки дерева сетки между циклами адаптации.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/amr-mesh/internal/mesh"
)

// ErrNotFound: запись для цикла отсутствует
var ErrNotFound = errors.New("snapshot not found")

// Record: снимок дерева вместе с отчётом цикла, после которого он снят
type Record struct {
	Cycle    int              `json:"cycle"`
	SavedAt  time.Time        `json:"saved_at"`
	Report   mesh.CycleReport `json:"report"`
	Snapshot *mesh.Snapshot   `json:"snapshot"`
}

// SnapshotStore: хранилище снимков по номеру цикла
type SnapshotStore interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, cycle int) (*Record, error)
	Latest(ctx context.Context) (*Record, error)
	Cycles(ctx context.Context) ([]int, error)
	Close() error
}

func snapshotKey(prefix string, cycle int) string {
	return fmt.Sprintf("%ssnapshot:%08d", prefix, cycle)
}
