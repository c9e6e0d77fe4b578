package adapt

import (
	"errors"
	"testing"

	"github.com/annel0/amr-mesh/internal/index"
	"github.com/annel0/amr-mesh/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allActions = []Action{Unknown, Unchanged, Refine, Coarsen}

type fakeBlock struct {
	idx  index.Index
	rank int
}

func (b fakeBlock) Index() index.Index { return b.idx }
func (b fakeBlock) Level() int         { return b.idx.Level() }
func (b fakeBlock) Rank() int          { return b.rank }
func (b fakeBlock) Size() vec.Vec3     { return vec.Vec3{X: 8, Y: 8, Z: 1} }
func (b fakeBlock) Cycle() int         { return 0 }

func TestCombineIdentity(t *testing.T) {
	for _, a := range allActions {
		assert.Equal(t, a, Combine(a, Unknown), "%s ⊕ unknown", a)
		assert.Equal(t, a, Combine(Unknown, a), "unknown ⊕ %s", a)
	}
}

func TestCombineCommutativeAssociative(t *testing.T) {
	for _, a := range allActions {
		for _, b := range allActions {
			assert.Equal(t, Combine(a, b), Combine(b, a), "%s ⊕ %s", a, b)
			for _, c := range allActions {
				assert.Equal(t, Combine(Combine(a, b), c), Combine(a, Combine(b, c)),
					"(%s ⊕ %s) ⊕ %s", a, b, c)
			}
		}
	}
}

func TestCombineTable(t *testing.T) {
	assert.Equal(t, Coarsen, Combine(Coarsen, Coarsen))
	assert.Equal(t, Refine, Combine(Refine, Coarsen))
	assert.Equal(t, Refine, Combine(Unchanged, Refine))
	assert.Equal(t, Unchanged, Combine(Coarsen, Unchanged))
	assert.Equal(t, Unchanged, Combine(Unchanged, Unchanged))
}

func TestSetEvaluate(t *testing.T) {
	leaf := fakeBlock{idx: index.Root().Child(1), rank: 2}

	var empty *Set
	got, err := empty.Evaluate(leaf, nil)
	require.NoError(t, err)
	assert.Equal(t, Unknown, got)

	s := NewSet(Constant(Coarsen), Constant(Coarsen))
	got, err = s.Evaluate(leaf, nil)
	require.NoError(t, err)
	assert.Equal(t, Coarsen, got)

	s.Add(MaxLevel(2))
	got, err = s.Evaluate(leaf, nil)
	require.NoError(t, err)
	assert.Equal(t, Refine, got, "refine побеждает при разногласии")
	assert.Equal(t, []string{"constant(coarsen)", "constant(coarsen)", "max_level(2)"}, s.Names())
}

func TestSetEvaluateUnknownResult(t *testing.T) {
	bad := Func("broken", func(Block, *FieldDescr) Action { return Action(42) })
	s := NewSet(MaxLevel(3), bad)

	_, err := s.Evaluate(fakeBlock{idx: index.Root(), rank: 3}, &FieldDescr{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownResult))

	var ure *UnknownResultError
	require.True(t, errors.As(err, &ure))
	assert.Equal(t, "broken", ure.Criterion)
	assert.Equal(t, index.Root(), ure.Block)
}

func TestMaxLevel(t *testing.T) {
	c := MaxLevel(2)
	assert.Equal(t, Refine, c.Apply(fakeBlock{idx: index.Root(), rank: 2}, nil))
	assert.Equal(t, Refine, c.Apply(fakeBlock{idx: index.Root().Child(0), rank: 2}, nil))
	assert.Equal(t, Unchanged, c.Apply(fakeBlock{idx: index.Root().Child(0).Child(3), rank: 2}, nil))
}

func TestPoint(t *testing.T) {
	c := Point(vec.Vec3Float{X: 0.1, Y: 0.1}, 3)
	assert.Equal(t, Refine, c.Apply(fakeBlock{idx: index.Root().Child(0), rank: 2}, nil))
	assert.Equal(t, Unchanged, c.Apply(fakeBlock{idx: index.Root().Child(3), rank: 2}, nil))
	deep := index.FromCoords(3, vec.Vec3{})
	assert.Equal(t, Unchanged, c.Apply(fakeBlock{idx: deep, rank: 2}, nil))
}

func TestNoiseDeterministic(t *testing.T) {
	p := DefaultNoiseParams()
	a := Noise(p)
	b := Noise(p)
	blk := fakeBlock{idx: index.Root().Child(2).Child(1), rank: 2}
	assert.Equal(t, a.Apply(blk, nil), b.Apply(blk, nil))
	assert.True(t, a.Apply(blk, nil).Valid())

	// Выше максимального уровня уточнения нет
	p.RefineAbove = -1
	p.MaxLevel = 2
	assert.NotEqual(t, Refine, Noise(p).Apply(blk, nil))
}

func TestParseAction(t *testing.T) {
	for _, a := range allActions {
		got, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("explode")
	assert.Error(t, err)
	assert.False(t, Action(9).Valid())
}
