// Package vec содержит целочисленные векторы воксельной сетки.
package vec

import "math"

// Vec3 трёхмерный вектор с целочисленными координатами
type Vec3 struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
	Z int `msgpack:"z"`
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3) Mul(scalar int) Vec3 {
	return Vec3{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// DistanceTo возвращает евклидово расстояние до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// InBounds проверяет, лежит ли вектор в кубе [0, size)
func (v Vec3) InBounds(size int) bool {
	return v.X >= 0 && v.Y >= 0 && v.Z >= 0 && v.X < size && v.Y < size && v.Z < size
}
