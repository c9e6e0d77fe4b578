package index

import (
	"fmt"
	"strings"
)

// Boundary задаёт политику на границе единичной области
type Boundary int

const (
	// Closed: за границей области соседей нет
	Closed Boundary = iota
	// Periodic: координаты замыкаются по модулю 2^level
	Periodic
)

func (b Boundary) String() string {
	switch b {
	case Closed:
		return "closed"
	case Periodic:
		return "periodic"
	default:
		return fmt.Sprintf("boundary(%d)", int(b))
	}
}

// ParseBoundary разбирает имя политики из конфигурации
func ParseBoundary(s string) (Boundary, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "closed":
		return Closed, nil
	case "periodic":
		return Periodic, nil
	}
	return Closed, fmt.Errorf("unknown boundary policy %q", s)
}

// wrap приводит координату v к диапазону [0, n) согласно политике
func (b Boundary) wrap(v, n int) (int, bool) {
	if v >= 0 && v < n {
		return v, true
	}
	if b == Periodic {
		return ((v % n) + n) % n, true
	}
	return 0, false
}
