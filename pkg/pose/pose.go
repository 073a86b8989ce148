// Package pose provides the 6-DoF pose value type used throughout armctl.
//
// A pose is three meters of translation (x, y, z) followed by an axis-angle
// rotation vector (rx, ry, rz) in radians. The rotation-vector convention is
// fixed system-wide: the vector's direction is the rotation axis and its
// magnitude is the rotation angle.
package pose

import "math"

// Pose is an immutable 6-DoF pose value: [x, y, z, rx, ry, rz].
type Pose [6]float64

// Translation returns the x, y, z components in meters.
func (p Pose) Translation() [3]float64 {
	return [3]float64{p[0], p[1], p[2]}
}

// Rotation returns the axis-angle rotation vector in radians.
func (p Pose) Rotation() [3]float64 {
	return [3]float64{p[3], p[4], p[5]}
}

// IsFinite reports whether every component is a finite number.
func (p Pose) IsFinite() bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Distance returns the translational distance in meters and the rotational
// distance in radians between two poses. Translation is Euclidean; rotation
// is the magnitude of the relative rotation between the two orientations.
func Distance(a, b Pose) (posDist, rotDist float64) {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	dz := b[2] - a[2]
	posDist = math.Sqrt(dx*dx + dy*dy + dz*dz)

	qa := quatFromRotVec(a.Rotation())
	qb := quatFromRotVec(b.Rotation())
	rotDist = quatAngle(qa, qb)
	return posDist, rotDist
}

// Interpolate returns the pose a fraction s of the way from a to b.
// Translation is interpolated linearly and rotation by quaternion slerp.
// s is clamped to [0, 1].
func Interpolate(a, b Pose, s float64) Pose {
	if s <= 0 {
		return a
	}
	if s >= 1 {
		return b
	}

	var out Pose
	for i := 0; i < 3; i++ {
		out[i] = a[i] + (b[i]-a[i])*s
	}

	qa := quatFromRotVec(a.Rotation())
	qb := quatFromRotVec(b.Rotation())
	rv := rotVecFromQuat(slerp(qa, qb, s))
	out[3], out[4], out[5] = rv[0], rv[1], rv[2]
	return out
}

// quat is a unit quaternion [w, x, y, z].
type quat [4]float64

func quatFromRotVec(v [3]float64) quat {
	angle := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if angle < 1e-12 {
		return quat{1, 0, 0, 0}
	}
	s := math.Sin(angle/2) / angle
	return quat{math.Cos(angle / 2), v[0] * s, v[1] * s, v[2] * s}
}

func rotVecFromQuat(q quat) [3]float64 {
	// Force the short representation (angle in [0, pi]).
	if q[0] < 0 {
		q = quat{-q[0], -q[1], -q[2], -q[3]}
	}
	n := math.Sqrt(q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n < 1e-12 {
		return [3]float64{}
	}
	angle := 2 * math.Atan2(n, q[0])
	k := angle / n
	return [3]float64{q[1] * k, q[2] * k, q[3] * k}
}

// quatAngle returns the angle of the relative rotation between q1 and q2.
func quatAngle(q1, q2 quat) float64 {
	d := q1[0]*q2[0] + q1[1]*q2[1] + q1[2]*q2[2] + q1[3]*q2[3]
	d = math.Abs(d)
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

func slerp(q1, q2 quat, s float64) quat {
	dot := q1[0]*q2[0] + q1[1]*q2[1] + q1[2]*q2[2] + q1[3]*q2[3]
	if dot < 0 {
		dot = -dot
		q2 = quat{-q2[0], -q2[1], -q2[2], -q2[3]}
	}

	var w1, w2 float64
	if dot > 0.9995 {
		// Nearly parallel: fall back to nlerp.
		w1, w2 = 1-s, s
	} else {
		theta := math.Acos(dot)
		sinTheta := math.Sin(theta)
		w1 = math.Sin((1-s)*theta) / sinTheta
		w2 = math.Sin(s*theta) / sinTheta
	}

	out := quat{
		w1*q1[0] + w2*q2[0],
		w1*q1[1] + w2*q2[1],
		w1*q1[2] + w2*q2[2],
		w1*q1[3] + w2*q2[3],
	}
	n := math.Sqrt(out[0]*out[0] + out[1]*out[1] + out[2]*out[2] + out[3]*out[3])
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}
