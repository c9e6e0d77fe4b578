package adapt

import (
	"errors"
	"fmt"

	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/vec"
)

// ErrUnknownResult возвращается, когда критерий выдал значение вне домена Action
var ErrUnknownResult = errors.New("criterion returned value outside adapt action domain")

// UnknownResultError описывает конкретный критерий и блок
type UnknownResultError struct {
	Criterion string
	Block     index.Index
	Value     Action
}

func (e *UnknownResultError) Error() string {
	return fmt.Sprintf("criterion %q on block %s: %v (%d)", e.Criterion, e.Block, ErrUnknownResult, int(e.Value))
}

func (e *UnknownResultError) Unwrap() error { return ErrUnknownResult }

// Block: то, что критерий видит у листа
type Block interface {
	Index() index.Index
	Level() int
	Rank() int
	Size() vec.Vec3
	Cycle() int
}

// FieldDescr описывает поля, доступные критериям
type FieldDescr struct {
	Fields []string
}

// Criterion: подключаемый предикат адаптации
type Criterion interface {
	Name() string
	Apply(b Block, fd *FieldDescr) Action
}

// Set: упорядоченный набор критериев. Порядок регистрации сохраняется.
type Set struct {
	criteria []Criterion
}

// NewSet создаёт набор критериев
func NewSet(criteria ...Criterion) *Set {
	return &Set{criteria: append([]Criterion(nil), criteria...)}
}

// Add регистрирует критерий в конце набора
func (s *Set) Add(c Criterion) {
	s.criteria = append(s.criteria, c)
}

// Len возвращает число критериев
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.criteria)
}

// Names возвращает имена критериев в порядке регистрации
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.criteria))
	for i, c := range s.criteria {
		names[i] = c.Name()
	}
	return names
}

// Evaluate сворачивает результаты всех критериев слева направо через Combine,
// начиная с Unknown. Значение вне домена является фатальной ошибкой.
func (s *Set) Evaluate(b Block, fd *FieldDescr) (Action, error) {
	result := Unknown
	if s == nil {
		return result, nil
	}
	for _, c := range s.criteria {
		r := c.Apply(b, fd)
		if !r.Valid() {
			return Unknown, &UnknownResultError{Criterion: c.Name(), Block: b.Index(), Value: r}
		}
		result = Combine(result, r)
	}
	return result, nil
}
