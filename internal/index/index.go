// Package index описывает иерархический идентификатор блока сетки:
// уровень и путь из селекторов дочерних октантов от корня.
package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/annel0/amr-mesh/internal/vec"
)

// MaxSelector: число возможных селекторов ребёнка (3 бита: x, y, z).
const MaxSelector = 8

// Index неизменяемый идентификатор блока. Уровень равен длине пути.
// Значение сравнимо через == и пригодно как ключ map.
type Index struct {
	path string // по одному байту-селектору на уровень
}

// Root возвращает индекс корневого блока
func Root() Index { return Index{} }

// Level возвращает уровень блока (0 для корня)
func (i Index) Level() int { return len(i.path) }

// IsRoot сообщает, является ли блок корнем дерева
func (i Index) IsRoot() bool { return len(i.path) == 0 }

// Child строит индекс ребёнка по селектору.
// Бит 0 селектора задаёт смещение по X, бит 1 по Y, бит 2 по Z.
func (i Index) Child(selector int) Index {
	if selector < 0 || selector >= MaxSelector {
		panic(fmt.Sprintf("index: selector %d out of range [0,%d)", selector, MaxSelector))
	}
	return Index{path: i.path + string(rune(selector))}
}

// Parent отбрасывает последний селектор. Родитель корня есть сам корень.
func (i Index) Parent() Index {
	if i.IsRoot() {
		return i
	}
	return Index{path: i.path[:len(i.path)-1]}
}

// Selector возвращает селектор блока в родителе (слот в векторе глубин родителя).
// Для корня возвращает 0.
func (i Index) Selector() int {
	if i.IsRoot() {
		return 0
	}
	return int(i.path[len(i.path)-1])
}

// SelectorAt возвращает селектор, выбранный при переходе на уровень level (1..Level).
func (i Index) SelectorAt(level int) int {
	return int(i.path[level-1])
}

// AncestorAt возвращает предка на заданном уровне (level <= Level).
func (i Index) AncestorAt(level int) Index {
	if level < 0 || level > len(i.path) {
		panic(fmt.Sprintf("index: ancestor level %d outside [0,%d]", level, len(i.path)))
	}
	return Index{path: i.path[:level]}
}

// IsAncestorOf сообщает, лежит ли j в поддереве i (включая сам i).
func (i Index) IsAncestorOf(j Index) bool {
	return strings.HasPrefix(j.path, i.path)
}

// Coords возвращает целочисленные координаты блока на его уровне.
// На уровне L каждая координата лежит в [0, 2^L).
func (i Index) Coords() vec.Vec3 {
	var c vec.Vec3
	for k := 0; k < len(i.path); k++ {
		s := int(i.path[k])
		c.X = c.X<<1 | s&1
		c.Y = c.Y<<1 | (s>>1)&1
		c.Z = c.Z<<1 | (s>>2)&1
	}
	return c
}

// FromCoords строит индекс по уровню и координатам на этом уровне.
func FromCoords(level int, c vec.Vec3) Index {
	path := make([]byte, level)
	for k := 0; k < level; k++ {
		shift := level - 1 - k
		path[k] = byte((c.X>>shift)&1 | ((c.Y>>shift)&1)<<1 | ((c.Z>>shift)&1)<<2)
	}
	return Index{path: string(path)}
}

// Neighbor возвращает соседа того же уровня со сдвигом ±1 по оси axis.
// Поведение на границе области задаёт политика b; false означает, что соседа нет.
func (i Index) Neighbor(axis, dir int, b Boundary) (Index, bool) {
	if dir != -1 && dir != 1 {
		panic(fmt.Sprintf("index: neighbor direction %d, want -1 or 1", dir))
	}
	c := i.Coords()
	n := 1 << len(i.path)
	v, ok := b.wrap(c.Axis(axis)+dir, n)
	if !ok {
		return Index{}, false
	}
	return FromCoords(len(i.path), c.WithAxis(axis, v)), true
}

// Bounds возвращает границы блока в единичной области [0,1)^3.
func (i Index) Bounds() (lo, hi vec.Vec3Float) {
	c := i.Coords()
	h := 1.0 / float64(int(1)<<len(i.path))
	lo = vec.Vec3Float{X: float64(c.X) * h, Y: float64(c.Y) * h, Z: float64(c.Z) * h}
	hi = vec.Vec3Float{X: lo.X + h, Y: lo.Y + h, Z: lo.Z + h}
	return lo, hi
}

// Center возвращает центр блока в единичной области
func (i Index) Center() vec.Vec3Float {
	lo, hi := i.Bounds()
	return vec.Vec3Float{X: (lo.X + hi.X) / 2, Y: (lo.Y + hi.Y) / 2, Z: (lo.Z + hi.Z) / 2}
}

// Contains проверяет попадание точки в блок по первым rank осям
func (i Index) Contains(p vec.Vec3Float, rank int) bool {
	lo, hi := i.Bounds()
	for axis := 0; axis < rank; axis++ {
		if v := p.Axis(axis); v < lo.Axis(axis) || v >= hi.Axis(axis) {
			return false
		}
	}
	return true
}

// Less задаёт порядок: сначала по уровню, затем лексикографически по пути
func Less(a, b Index) bool {
	if len(a.path) != len(b.path) {
		return len(a.path) < len(b.path)
	}
	return a.path < b.path
}

// String возвращает запись вида "r", "r.1.3"
func (i Index) String() string {
	var sb strings.Builder
	sb.WriteByte('r')
	for k := 0; k < len(i.path); k++ {
		sb.WriteByte('.')
		sb.WriteByte('0' + i.path[k])
	}
	return sb.String()
}

// Parse разбирает запись, полученную из String
func Parse(s string) (Index, error) {
	parts := strings.Split(s, ".")
	if parts[0] != "r" {
		return Index{}, fmt.Errorf("index %q: must start with \"r\"", s)
	}
	path := make([]byte, 0, len(parts)-1)
	for _, p := range parts[1:] {
		sel, err := strconv.Atoi(p)
		if err != nil || sel < 0 || sel >= MaxSelector {
			return Index{}, fmt.Errorf("index %q: bad selector %q", s, p)
		}
		path = append(path, byte(sel))
	}
	return Index{path: string(path)}, nil
}

// MarshalText реализует encoding.TextMarshaler
func (i Index) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (i *Index) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
