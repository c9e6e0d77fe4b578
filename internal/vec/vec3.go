package vec

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Для сеток ранга 1 и 2 лишние оси остаются нулевыми.
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// Axis возвращает координату по номеру оси (0=X, 1=Y, 2=Z)
func (v Vec3) Axis(axis int) int {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	}
	panic("vec: axis out of range")
}

// WithAxis возвращает копию вектора с заменённой координатой
func (v Vec3) WithAxis(axis, value int) Vec3 {
	switch axis {
	case 0:
		v.X = value
	case 1:
		v.Y = value
	case 2:
		v.Z = value
	default:
		panic("vec: axis out of range")
	}
	return v
}

// Axis возвращает координату по номеру оси (0=X, 1=Y, 2=Z)
func (v Vec3Float) Axis(axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	}
	panic("vec: axis out of range")
}

// Scale умножает все компоненты на s
func (v Vec3Float) Scale(s float64) Vec3Float {
	return Vec3Float{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}
