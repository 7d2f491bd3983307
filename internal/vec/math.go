package vec

// ISqrt64 возвращает целочисленный квадратный корень (floor) методом Ньютона.
// Детерминирован на всех платформах в отличие от math.Sqrt.
func ISqrt64(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// Normalize приводит вектор к указанной длине целочисленной арифметикой.
// Нулевой вектор остаётся нулевым.
func (v Vec2) Normalize(length int32) Vec2 {
	l := ISqrt64(v.LengthSq())
	if l == 0 {
		return Vec2{}
	}
	return Vec2{
		X: int32(int64(v.X) * int64(length) / l),
		Y: int32(int64(v.Y) * int64(length) / l),
	}
}
