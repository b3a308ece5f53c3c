package types

import "math"

// Vector3 is a 3-component vector in world units.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func NewVector3(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vector3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// Unit returns the normalized vector, or the zero vector when the length
// is too small to divide by.
func (v Vector3) Unit() Vector3 {
	l := v.Length()
	if l < 1e-9 {
		return Vector3{}
	}
	return v.Scale(1 / l)
}

func (v Vector3) Lerp(o Vector3, t float64) Vector3 {
	return v.Add(o.Sub(v).Scale(t))
}

// Array returns the vector as a [x, y, z] slice for wire records.
func (v Vector3) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Color3 is an RGB color with components in [0, 1].
type Color3 struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

func NewColor3(r, g, b float64) Color3 {
	return Color3{R: r, G: g, B: b}
}

func (c Color3) Array() [3]float64 {
	return [3]float64{c.R, c.G, c.B}
}

// Rotation is a 3x3 row-major rotation matrix.
type Rotation [3][3]float64

// IdentityRotation is the no-rotation matrix.
var IdentityRotation = Rotation{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// IsIdentity reports whether the rotation is the identity within a small
// tolerance. Snapshots omit identity rotations to keep frames small.
func (r Rotation) IsIdentity() bool {
	const eps = 1e-3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(r[i][j]-want) > eps {
				return false
			}
		}
	}
	return true
}
