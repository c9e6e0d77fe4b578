package mesh

import (
	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/vec"
)

// BlockSpec: параметры нового блока. Ребёнок наследует размер, число
// блоков полей, счётчик remaining и тестовый флаг родителя.
type BlockSpec struct {
	Index          index.Index
	Size           vec.Vec3
	Level          int
	NumFieldBlocks int
	Remaining      int
	Testing        bool
	Cycle          int
	Epoch          uint64 // последняя эпоха, принятая родителем
}

// Factory создаёт акторы для новых блоков
type Factory interface {
	CreateBlock(owner *Runtime, spec BlockSpec) (*BlockActor, error)
}

// FactoryFunc позволяет использовать функцию как Factory
type FactoryFunc func(owner *Runtime, spec BlockSpec) (*BlockActor, error)

func (f FactoryFunc) CreateBlock(owner *Runtime, spec BlockSpec) (*BlockActor, error) {
	return f(owner, spec)
}

// DefaultFactory строит обычные акторы без дополнительных данных
type DefaultFactory struct{}

func (DefaultFactory) CreateBlock(owner *Runtime, spec BlockSpec) (*BlockActor, error) {
	return NewBlockActor(owner, spec), nil
}
