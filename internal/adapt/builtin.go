package adapt

import (
	"fmt"

	"github.com/annel0/amr-mesh/internal/vec"
)

type maxLevel struct {
	level int
}

// MaxLevel уточняет каждый лист, пока его уровень меньше n
func MaxLevel(n int) Criterion { return maxLevel{level: n} }

func (c maxLevel) Name() string { return fmt.Sprintf("max_level(%d)", c.level) }

func (c maxLevel) Apply(b Block, _ *FieldDescr) Action {
	if b.Level() < c.level {
		return Refine
	}
	return Unchanged
}

type constant struct {
	action Action
}

// Constant всегда возвращает одно и то же действие
func Constant(a Action) Criterion { return constant{action: a} }

func (c constant) Name() string { return "constant(" + c.action.String() + ")" }

func (c constant) Apply(Block, *FieldDescr) Action { return c.action }

type funcCriterion struct {
	name string
	fn   func(Block, *FieldDescr) Action
}

// Func оборачивает произвольную функцию в критерий
func Func(name string, fn func(Block, *FieldDescr) Action) Criterion {
	return funcCriterion{name: name, fn: fn}
}

func (c funcCriterion) Name() string { return c.name }

func (c funcCriterion) Apply(b Block, fd *FieldDescr) Action { return c.fn(b, fd) }

type point struct {
	p        vec.Vec3Float
	maxLevel int
}

// Point уточняет блоки, содержащие точку p, до уровня maxLevel.
// Остальные блоки остаются без изменений.
func Point(p vec.Vec3Float, maxLevel int) Criterion {
	return point{p: p, maxLevel: maxLevel}
}

func (c point) Name() string {
	return fmt.Sprintf("point(%.3f,%.3f,%.3f;%d)", c.p.X, c.p.Y, c.p.Z, c.maxLevel)
}

func (c point) Apply(b Block, _ *FieldDescr) Action {
	if b.Level() < c.maxLevel && b.Index().Contains(c.p, b.Rank()) {
		return Refine
	}
	return Unchanged
}
