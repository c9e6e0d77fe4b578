package mesh

import (
	"testing"

	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/vec"
	"github.com/stretchr/testify/assert"
)

func leafAt(level int, c vec.Vec3) BlockInfo {
	return BlockInfo{Index: index.FromCoords(level, c), Level: level, Depth: make([]int, 4), Leaf: true}
}

func TestGradedDetectsViolation(t *testing.T) {
	// Корень → 4 ребёнка; ребёнок (0,0) → 4 внука; внук (1,1) → 4 правнука.
	// Правнук (3,1) на уровне 3 соседствует с листом (1,0) уровня 1.
	snap := &Snapshot{Rank: 2}
	snap.Blocks = append(snap.Blocks,
		BlockInfo{Index: index.Root(), Level: 0, Depth: []int{3, 1, 1, 1}},
		BlockInfo{Index: index.FromCoords(1, vec.Vec3{}), Level: 1, Depth: []int{1, 1, 1, 2}},
		leafAt(1, vec.Vec3{X: 1}), leafAt(1, vec.Vec3{Y: 1}), leafAt(1, vec.Vec3{X: 1, Y: 1}),
		leafAt(2, vec.Vec3{}), leafAt(2, vec.Vec3{X: 1}), leafAt(2, vec.Vec3{Y: 1}),
		BlockInfo{Index: index.FromCoords(2, vec.Vec3{X: 1, Y: 1}), Level: 2, Depth: []int{1, 1, 1, 1}},
	)
	for _, c := range []vec.Vec3{{X: 2, Y: 2}, {X: 3, Y: 2}, {X: 2, Y: 3}, {X: 3, Y: 3}} {
		snap.Blocks = append(snap.Blocks, leafAt(3, c))
	}
	snap.sortBlocks()

	violations := snap.Graded(index.Closed)
	assert.NotEmpty(t, violations)
	for _, v := range violations {
		assert.Equal(t, 3, v.Fine.Level())
		assert.Equal(t, 1, v.Coarse.Level())
	}
	assert.Equal(t, []int{1, 4, 4, 4}, snap.CountByLevel())
	assert.Len(t, snap.Leaves(), 10)
	assert.Equal(t, 3, snap.MaxLevel())
}

func TestGradedAcceptsUniformTree(t *testing.T) {
	snap := &Snapshot{Rank: 2, Blocks: []BlockInfo{{Index: index.Root(), Depth: []int{1, 1, 1, 1}}}}
	for sel := 0; sel < 4; sel++ {
		snap.Blocks = append(snap.Blocks, BlockInfo{Index: index.Root().Child(sel), Level: 1, Depth: make([]int, 4), Leaf: true})
	}
	assert.Empty(t, snap.Graded(index.Closed))
	assert.Empty(t, snap.Graded(index.Periodic))
}

func TestGradedIgnoresCornerNeighbours(t *testing.T) {
	// Лист (3,3) уровня 3 касается листа (1,1) уровня 1 только углом,
	// через грани его соседи уровня 2.
	snap := &Snapshot{Rank: 2}
	snap.Blocks = append(snap.Blocks,
		BlockInfo{Index: index.Root(), Level: 0, Depth: []int{3, 2, 2, 1}},
		BlockInfo{Index: index.FromCoords(1, vec.Vec3{}), Level: 1, Depth: []int{1, 1, 1, 2}},
		BlockInfo{Index: index.FromCoords(1, vec.Vec3{X: 1}), Level: 1, Depth: []int{1, 1, 1, 1}},
		BlockInfo{Index: index.FromCoords(1, vec.Vec3{Y: 1}), Level: 1, Depth: []int{1, 1, 1, 1}},
		leafAt(1, vec.Vec3{X: 1, Y: 1}),
		BlockInfo{Index: index.FromCoords(2, vec.Vec3{X: 1, Y: 1}), Level: 2, Depth: []int{1, 1, 1, 1}},
	)
	for _, c := range []vec.Vec3{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1},
		{X: 2, Y: 0}, {X: 3, Y: 0}, {X: 2, Y: 1}, {X: 3, Y: 1},
		{X: 0, Y: 2}, {X: 1, Y: 2}, {X: 0, Y: 3}, {X: 1, Y: 3},
	} {
		snap.Blocks = append(snap.Blocks, leafAt(2, c))
	}
	for _, c := range []vec.Vec3{{X: 2, Y: 2}, {X: 3, Y: 2}, {X: 2, Y: 3}, {X: 3, Y: 3}} {
		snap.Blocks = append(snap.Blocks, leafAt(3, c))
	}
	snap.sortBlocks()

	assert.Empty(t, snap.Graded(index.Closed))
	assert.Equal(t, []int{1, 4, 12, 4}, snap.CountByLevel())
}
