package vec

// Vec2 представляет 2D координаты в фиксированной точке (1/256 тайла).
// Весь симуляционный код работает только с целочисленной арифметикой,
// чтобы результаты были бит-идентичны на любой платформе.
type Vec2 struct {
	X, Y int32
}

// FixedShift — количество дробных бит фиксированной точки.
const FixedShift = 8

// FromTiles создает Vec2 из координат в тайлах
func FromTiles(x, y int32) Vec2 {
	return Vec2{X: x << FixedShift, Y: y << FixedShift}
}

// ToTile возвращает координаты тайла, в котором находится точка
func (v Vec2) ToTile() (int32, int32) {
	return v.X >> FixedShift, v.Y >> FixedShift
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Scale умножает вектор на целый скаляр
func (v Vec2) Scale(s int32) Vec2 {
	return Vec2{X: v.X * s, Y: v.Y * s}
}

// Shr сдвигает обе компоненты вправо (деление на степень двойки)
func (v Vec2) Shr(bits uint) Vec2 {
	return Vec2{X: v.X >> bits, Y: v.Y >> bits}
}

// LengthSq возвращает квадрат длины вектора.
// Квадратный корень не используется: сравнение квадратов достаточно
// для всех проверок дистанции и не требует плавающей точки.
func (v Vec2) LengthSq() int64 {
	dx := int64(v.X)
	dy := int64(v.Y)
	return dx*dx + dy*dy
}

// DistanceSqTo возвращает квадрат расстояния до другой точки
func (v Vec2) DistanceSqTo(other Vec2) int64 {
	return v.Sub(other).LengthSq()
}

// Clamp ограничивает компоненты вектора прямоугольником [min, max]
func (v Vec2) Clamp(min, max Vec2) Vec2 {
	out := v
	if out.X < min.X {
		out.X = min.X
	}
	if out.X > max.X {
		out.X = max.X
	}
	if out.Y < min.Y {
		out.Y = min.Y
	}
	if out.Y > max.Y {
		out.Y = max.Y
	}
	return out
}

// IsZero проверяет, является ли вектор нулевым
func (v Vec2) IsZero() bool {
	return v.X == 0 && v.Y == 0
}
