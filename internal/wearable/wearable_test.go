package wearable

import (
	"math"
	"testing"
	"time"
)

func TestParseRoundTrip(t *testing.T) {
	for _, s := range SensorIDs {
		got, err := ParseSensorID(s.String())
		if err != nil || got != s {
			t.Fatalf("sensor %v: got %v err=%v", s, got, err)
		}
	}
	for _, g := range GestureIDs {
		got, err := ParseGestureID(g.String())
		if err != nil || got != g {
			t.Fatalf("gesture %v: got %v err=%v", g, got, err)
		}
	}
	for u := Interval320ms; u <= Interval20ms; u++ {
		got, err := ParseUpdateInterval(u.String())
		if err != nil || got != u {
			t.Fatalf("interval %v: got %v err=%v", u, got, err)
		}
	}
	for _, r := range []RotationSource{SixDof, NineDof} {
		got, err := ParseRotationSource(r.String())
		if err != nil || got != r {
			t.Fatalf("rotation %v: got %v err=%v", r, got, err)
		}
	}
	if _, err := ParseSensorID("magnetometer"); err == nil {
		t.Fatalf("expected error for unknown sensor")
	}
}

func TestGestureIDsExcludeNone(t *testing.T) {
	for _, g := range GestureIDs {
		if g == GestureNone {
			t.Fatalf("GestureIDs must not contain the none sentinel")
		}
	}
}

func TestUpdateIntervalDuration(t *testing.T) {
	cases := map[UpdateInterval]time.Duration{
		Interval320ms: 320 * time.Millisecond,
		Interval160ms: 160 * time.Millisecond,
		Interval80ms:  80 * time.Millisecond,
		Interval40ms:  40 * time.Millisecond,
		Interval20ms:  20 * time.Millisecond,
	}
	for u, want := range cases {
		if got := u.Duration(); got != want {
			t.Fatalf("%v: %v want %v", u, got, want)
		}
	}
	if DefaultUpdateInterval != Interval80ms || DefaultRotationSource != SixDof {
		t.Fatalf("unexpected defaults")
	}
}

func TestClampRSSI(t *testing.T) {
	cases := []struct{ in, want int32 }{
		{-100, RSSIFilterLowerBound},
		{-70, -70},
		{-65, -65},
		{-30, -30},
		{0, RSSIFilterUpperBound},
	}
	for _, tc := range cases {
		if got := ClampRSSI(tc.in); got != tc.want {
			t.Fatalf("ClampRSSI(%d)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestDeviceUID(t *testing.T) {
	if !EmptyDevice().Valid() {
		t.Fatalf("empty UID must be well formed")
	}
	uid := NewUID()
	if !ValidUID(uid) || uid == EmptyUID {
		t.Fatalf("bad generated uid %q", uid)
	}
	for _, bad := range []string{"", "not-a-uid", EmptyUID + "0", "{00000000-0000-0000-0000-000000000000}"} {
		if ValidUID(bad) {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestQuaternionRotate(t *testing.T) {
	q := AxisAngle(Vector3{Y: 1}, 90)
	v := q.Rotate(Vector3{X: 1})
	// +90 degrees around Y maps +X to -Z.
	if math.Abs(float64(v.X)) > 1e-6 || math.Abs(float64(v.Z+1)) > 1e-6 {
		t.Fatalf("rotated %+v", v)
	}
	back := q.Conjugate().Rotate(v)
	if math.Abs(float64(back.X-1)) > 1e-6 {
		t.Fatalf("inverse rotation %+v", back)
	}
	if AxisAngle(Vector3{}, 45) != IdentityQuaternion {
		t.Fatalf("zero axis must give identity")
	}
}
