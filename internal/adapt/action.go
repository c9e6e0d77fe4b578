// Package adapt содержит решение об адаптации блока: действие, правило
// комбинирования и набор подключаемых критериев.
package adapt

import (
	"fmt"
	"strings"
)

// Action: решение критерия для листового блока
type Action int

const (
	Unknown   Action = iota // критерий не имеет мнения
	Unchanged               // оставить блок как есть
	Refine                  // разбить блок на 2^rank детей
	Coarsen                 // слить блок с братьями в родителя
)

var actionNames = map[Action]string{
	Unknown:   "unknown",
	Unchanged: "unchanged",
	Refine:    "refine",
	Coarsen:   "coarsen",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Valid сообщает, принадлежит ли значение четырёхэлементному домену
func (a Action) Valid() bool {
	return a >= Unknown && a <= Coarsen
}

// Combine реализует операцию ⊕. Операция коммутативна и ассоциативна,
// Unknown является нейтральным элементом, Refine поглощает всё, кроме Unknown.
func Combine(a, b Action) Action {
	switch {
	case a == Unknown:
		return b
	case b == Unknown:
		return a
	case a == Refine || b == Refine:
		return Refine
	case a == Coarsen && b == Coarsen:
		return Coarsen
	default:
		return Unchanged
	}
}

// ParseAction разбирает имя действия из конфигурации
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return Unknown, fmt.Errorf("unknown adapt action %q", s)
}
