package vec

import "testing"

func TestVec3Axis(t *testing.T) {
	v := Vec3{X: 1, Y: 2, Z: 3}
	for axis, want := range []int{1, 2, 3} {
		if got := v.Axis(axis); got != want {
			t.Errorf("Axis(%d) = %d, ожидалось %d", axis, got, want)
		}
	}

	w := v.WithAxis(1, 7)
	if w != (Vec3{X: 1, Y: 7, Z: 3}) {
		t.Errorf("WithAxis вернул %+v", w)
	}
	if v.Y != 2 {
		t.Error("WithAxis не должен менять исходный вектор")
	}
}

func TestVec3FloatScale(t *testing.T) {
	got := Vec3Float{X: 0.5, Y: 0.25, Z: 1}.Scale(4)
	if got != (Vec3Float{X: 2, Y: 1, Z: 4}) {
		t.Errorf("Scale = %+v", got)
	}
	if got.Axis(2) != 4 {
		t.Errorf("Axis(2) = %v", got.Axis(2))
	}
}

func TestVec3AxisPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("ожидалась паника для оси 3")
		}
	}()
	_ = Vec3{}.Axis(3)
}
