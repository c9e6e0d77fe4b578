package mesh

import (
	"sort"

	"github.com/annel0/amr-mesh/internal/index"
)

// BlockInfo: состояние одного блока в снимке
type BlockInfo struct {
	Index index.Index `json:"index"`
	Level int         `json:"level"`
	Depth []int       `json:"depth"`
	Leaf  bool        `json:"leaf"`
}

// Snapshot: согласованный снимок дерева между циклами адаптации
type Snapshot struct {
	Cycle  int         `json:"cycle"`
	Rank   int         `json:"rank"`
	Blocks []BlockInfo `json:"blocks"`
}

// GradingViolation: пара соседних листьев с разницей уровней больше 1
type GradingViolation struct {
	Fine   index.Index `json:"fine"`
	Coarse index.Index `json:"coarse"`
}

func (s *Snapshot) sortBlocks() {
	sort.Slice(s.Blocks, func(i, j int) bool { return index.Less(s.Blocks[i].Index, s.Blocks[j].Index) })
}

// CountByLevel возвращает число блоков на каждом уровне
func (s *Snapshot) CountByLevel() []int {
	var counts []int
	for _, b := range s.Blocks {
		for len(counts) <= b.Level {
			counts = append(counts, 0)
		}
		counts[b.Level]++
	}
	return counts
}

// Leaves возвращает только листья
func (s *Snapshot) Leaves() []BlockInfo {
	var leaves []BlockInfo
	for _, b := range s.Blocks {
		if b.Leaf {
			leaves = append(leaves, b)
		}
	}
	return leaves
}

// MaxLevel возвращает самый глубокий уровень в снимке
func (s *Snapshot) MaxLevel() int {
	deepest := 0
	for _, b := range s.Blocks {
		if b.Level > deepest {
			deepest = b.Level
		}
	}
	return deepest
}

// Graded проверяет условие 2:1 между листьями, соседствующими по граням.
// Соседство по рёбрам и углам не проверяется: балансировка сетки тоже
// гарантирует 2:1 только через грани, и листья, касающиеся друг друга лишь
// углом, могут отличаться по уровню больше чем на 1.
// Возвращает найденные нарушения; пустой результат означает дерево,
// сбалансированное по граням.
func (s *Snapshot) Graded(b index.Boundary) []GradingViolation {
	leaves := make(map[index.Index]bool)
	for _, blk := range s.Blocks {
		if blk.Leaf {
			leaves[blk.Index] = true
		}
	}

	var out []GradingViolation
	seen := make(map[GradingViolation]bool)
	for _, blk := range s.Blocks {
		if !blk.Leaf {
			continue
		}
		for _, face := range index.Faces(s.Rank) {
			nb, ok := blk.Index.Neighbor(face.Axis, face.Dir, b)
			if !ok {
				continue
			}
			// Ищем лист, покрывающий соседнюю область; если его нет -
			// сосед мельче, и пару проверит другая сторона.
			for level := nb.Level(); level >= 0; level-- {
				anc := nb.AncestorAt(level)
				if !leaves[anc] {
					continue
				}
				if blk.Level-level > 1 {
					v := GradingViolation{Fine: blk.Index, Coarse: anc}
					if !seen[v] {
						seen[v] = true
						out = append(out, v)
					}
				}
				break
			}
		}
	}
	return out
}
