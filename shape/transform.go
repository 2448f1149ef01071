package shape

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Normalize returns a copy with the quaternion part scaled to unit length.
// The translation is untouched. A zero quaternion yields non-finite values.
func (qt QuaternionTransformation) Normalize() QuaternionTransformation {
	norm := math.Sqrt(qt[0]*qt[0] + qt[1]*qt[1] + qt[2]*qt[2] + qt[3]*qt[3])
	for i := 0; i < 4; i++ {
		qt[i] /= norm
	}
	return qt
}

// Number returns the rotation part as a gonum quaternion
func (qt QuaternionTransformation) Number() quat.Number {
	return quat.Number{Real: qt[0], Imag: qt[1], Jmag: qt[2], Kmag: qt[3]}
}

// NewQuaternionTransformation builds a transformation from a rotation
// quaternion and a translation
func NewQuaternionTransformation(q quat.Number, t r3.Vec) QuaternionTransformation {
	return QuaternionTransformation{q.Real, q.Imag, q.Jmag, q.Kmag, t.X, t.Y, t.Z}
}

// rotationMatrix fills the 3x3 rotation block of a unit quaternion
func rotationMatrix(q0, q1, q2, q3 float64) [3][3]float64 {
	return [3][3]float64{
		{q0*q0 + q1*q1 - q2*q2 - q3*q3, 2 * (q1*q2 - q0*q3), 2 * (q1*q3 + q0*q2)},
		{2 * (q1*q2 + q0*q3), q0*q0 - q1*q1 + q2*q2 - q3*q3, 2 * (q2*q3 - q0*q1)},
		{2 * (q1*q3 - q0*q2), 2 * (q2*q3 + q0*q1), q0*q0 - q1*q1 - q2*q2 + q3*q3},
	}
}

// QuaternionToMatrix converts a transformation with a unit quaternion into a
// homogeneous matrix (rotation first, then translation)
func QuaternionToMatrix(qt QuaternionTransformation) Matrix4D {
	r := rotationMatrix(qt[0], qt[1], qt[2], qt[3])
	m := IdentityMatrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = r[i][j]
		}
		m[i][3] = qt[4+i]
	}
	return m
}

// Apply transforms a single point
func (m Matrix4D) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// Rotate applies only the 3x3 block of m
func (m Matrix4D) Rotate(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z,
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z,
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z,
	}
}

// TransformCoords writes m applied to every point of src into dst (grown as
// needed) and returns dst. dst and src may be the same slice.
func TransformCoords(dst []r3.Vec, m Matrix4D, src []r3.Vec) []r3.Vec {
	dst = resizeCoords(dst, len(src))
	for i, p := range src {
		dst[i] = m.Apply(p)
	}
	return dst
}

// MultiplyMatrices composes two transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 Matrix4D) Matrix4D {
	var r Matrix4D
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m1[i][k] * m2[k][j]
			}
			r[i][j] = sum
		}
	}
	return r
}

// InvertRigid inverts a rotation + translation transform (R^T, -R^T t)
func InvertRigid(m Matrix4D) Matrix4D {
	inv := IdentityMatrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv[i][j] = m[j][i]
		}
	}
	t := inv.Rotate(r3.Vec{X: m[0][3], Y: m[1][3], Z: m[2][3]})
	inv[0][3], inv[1][3], inv[2][3] = -t.X, -t.Y, -t.Z
	return inv
}

// TranslationMatrix creates a translation-only transform
func TranslationMatrix(t r3.Vec) Matrix4D {
	m := IdentityMatrix()
	m[0][3], m[1][3], m[2][3] = t.X, t.Y, t.Z
	return m
}

// Determinant3 returns the determinant of the rotation block
func (m Matrix4D) Determinant3() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// IsRigid reports whether the 3x3 block is orthonormal with determinant +1
// and the bottom row is (0, 0, 0, 1), all within tol
func (m Matrix4D) IsRigid(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += m[k][i] * m[k][j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	if math.Abs(m[3][0])+math.Abs(m[3][1])+math.Abs(m[3][2])+math.Abs(m[3][3]-1) > tol {
		return false
	}
	return math.Abs(m.Determinant3()-1) <= tol
}

// RMSD returns the root mean square deviation between corresponding points.
// Returns +Inf when the slices differ in length or are empty.
func RMSD(a, b []r3.Vec) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		sum += r3.Norm2(r3.Sub(a[i], b[i]))
	}
	return math.Sqrt(sum / float64(len(a)))
}

// isFinite reports whether every value is neither NaN nor infinite
func isFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
