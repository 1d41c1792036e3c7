package wearable

import "math"

// Vector3 is a three-axis reading.
type Vector3 struct {
	X, Y, Z float32
}

// Quaternion is a unit rotation.
type Quaternion struct {
	X, Y, Z, W float32
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

// AxisAngle returns the rotation of degrees around axis. A zero axis yields
// the identity.
func AxisAngle(axis Vector3, degrees float64) Quaternion {
	l := math.Sqrt(float64(axis.X*axis.X + axis.Y*axis.Y + axis.Z*axis.Z))
	if l == 0 {
		return IdentityQuaternion
	}
	half := degrees * math.Pi / 360
	s := math.Sin(half) / l
	return Quaternion{
		X: float32(float64(axis.X) * s),
		Y: float32(float64(axis.Y) * s),
		Z: float32(float64(axis.Z) * s),
		W: float32(math.Cos(half)),
	}
}

// Conjugate is the inverse of a unit quaternion.
func (q Quaternion) Conjugate() Quaternion { return Quaternion{-q.X, -q.Y, -q.Z, q.W} }

// Rotate applies q to v.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	// t = 2 * cross(q.xyz, v); v' = v + w*t + cross(q.xyz, t)
	tx := 2 * (q.Y*v.Z - q.Z*v.Y)
	ty := 2 * (q.Z*v.X - q.X*v.Z)
	tz := 2 * (q.X*v.Y - q.Y*v.X)
	return Vector3{
		X: v.X + q.W*tx + (q.Y*tz - q.Z*ty),
		Y: v.Y + q.W*ty + (q.Z*tx - q.X*tz),
		Z: v.Z + q.W*tz + (q.X*ty - q.Y*tx),
	}
}

type SensorVector3 struct {
	Value    Vector3
	Accuracy Accuracy
}

type SensorQuaternion struct {
	Value                  Quaternion
	MeasurementUncertainty float32
}

// SensorFrame is one sampling tick of streamed telemetry.
// Timestamp and DeltaTime are in seconds.
type SensorFrame struct {
	Timestamp       float32
	DeltaTime       float32
	Acceleration    SensorVector3
	AngularVelocity SensorVector3
	Rotation        SensorQuaternion
	Gesture         GestureID
}
