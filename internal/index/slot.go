package index

import "fmt"

// EncodeChildSlot переводит смещения ребёнка по осям в плоский номер слота:
//
//	slot = Σ_axis ((c_axis + 2) mod 2) · 2^axis
//
// Допустимая область каждого аргумента: {-1, 0, 1}. Значение -1 появляется,
// когда адресуется ребёнок соседнего блока через общую грань, и по модулю 2
// совпадает с 1. Аргументы вне области считаются ошибкой программиста (panic).
func EncodeChildSlot(icx, icy, icz int) int {
	return wrapChildOffset(icx) | wrapChildOffset(icy)<<1 | wrapChildOffset(icz)<<2
}

func wrapChildOffset(c int) int {
	if c < -1 || c > 1 {
		panic(fmt.Sprintf("index: child offset %d outside {-1,0,1}", c))
	}
	return (c + 2) % 2
}

// DecodeChildSlot раскладывает номер слота обратно на смещения 0/1
func DecodeChildSlot(slot int) (icx, icy, icz int) {
	return slot & 1, (slot >> 1) & 1, (slot >> 2) & 1
}

// NumChildren: число детей блока для заданного ранга (2^rank)
func NumChildren(rank int) int { return 1 << rank }

// Face: грань блока: ось и направление (-1 или +1)
type Face struct {
	Axis int
	Dir  int
}

// Faces перечисляет 2·rank граней блока
func Faces(rank int) []Face {
	faces := make([]Face, 0, 2*rank)
	for axis := 0; axis < rank; axis++ {
		faces = append(faces, Face{Axis: axis, Dir: -1}, Face{Axis: axis, Dir: 1})
	}
	return faces
}
