package adapt

import (
	"fmt"

	"github.com/aquilax/go-perlin"
)

// NoiseParams: параметры синтетического индикатора на шуме Перлина
type NoiseParams struct {
	Seed         int64
	Alpha        float64 // сглаживание шума
	Beta         float64 // частота шума
	Octaves      int32
	Frequency    float64 // масштаб координат центра блока
	RefineAbove  float64 // порог уточнения, значение в [0,1]
	CoarsenBelow float64 // порог огрубления, значение в [0,1]
	MaxLevel     int
}

// DefaultNoiseParams возвращает параметры, как у генератора мира
func DefaultNoiseParams() NoiseParams {
	return NoiseParams{
		Seed:         1,
		Alpha:        2.0,
		Beta:         2.0,
		Octaves:      3,
		Frequency:    4.0,
		RefineAbove:  0.6,
		CoarsenBelow: 0.4,
		MaxLevel:     4,
	}
}

type noise struct {
	params NoiseParams
	gen    *perlin.Perlin
}

// Noise строит критерий, сэмплирующий шум Перлина в центре блока.
// Генератор только читает свои таблицы, поэтому безопасен для параллельных блоков.
func Noise(p NoiseParams) Criterion {
	return &noise{
		params: p,
		gen:    perlin.NewPerlin(p.Alpha, p.Beta, p.Octaves, p.Seed),
	}
}

func (c *noise) Name() string {
	return fmt.Sprintf("noise(seed=%d)", c.params.Seed)
}

// Sample возвращает значение шума (от 0 до 1) в центре блока
func (c *noise) Sample(b Block) float64 {
	center := b.Index().Center().Scale(c.params.Frequency)
	var n float64
	switch b.Rank() {
	case 1:
		n = c.gen.Noise1D(center.X)
	case 2:
		n = c.gen.Noise2D(center.X, center.Y)
	default:
		n = c.gen.Noise3D(center.X, center.Y, center.Z)
	}
	// Шум лежит в [-1,1], приводим к [0,1]
	return (n + 1.0) / 2.0
}

func (c *noise) Apply(b Block, _ *FieldDescr) Action {
	v := c.Sample(b)
	switch {
	case v > c.params.RefineAbove && b.Level() < c.params.MaxLevel:
		return Refine
	case v < c.params.CoarsenBelow:
		return Coarsen
	default:
		return Unchanged
	}
}
