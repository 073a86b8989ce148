package transport

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

func TestSim_ConvergesToTarget(t *testing.T) {
	sim := NewSim(pose.Pose{}, 0.01)
	target := pose.Pose{0.1, -0.2, 0.05, 0, 0, 0.3}

	if err := sim.SendTarget(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond) // ~10 time constants

	got := sim.Actual()
	for i := range target {
		if math.Abs(got[i]-target[i]) > 1e-3 {
			t.Errorf("component %d: got %v, want ~%v", i, got[i], target[i])
		}
	}
}

func TestSim_ReadStatePublishesActualPose(t *testing.T) {
	sim := NewSim(pose.Pose{1, 2, 3, 0, 0, 0}, 0.05)

	channels, err := sim.ReadState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	actual, ok := channels[ChannelActualPose]
	if !ok {
		t.Fatalf("missing channel %q", ChannelActualPose)
	}
	if len(actual) != 6 {
		t.Fatalf("channel length: got %d, want 6", len(actual))
	}
	if actual[0] != 1 || actual[1] != 2 || actual[2] != 3 {
		t.Errorf("initial pose not reported: got %v", actual)
	}
}

func TestSim_DecelerateParks(t *testing.T) {
	sim := NewSim(pose.Pose{}, 0.05)
	sim.SendTarget(context.Background(), pose.Pose{1, 0, 0, 0, 0, 0})
	time.Sleep(20 * time.Millisecond)

	if err := sim.Decelerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	parked := sim.Actual()
	time.Sleep(50 * time.Millisecond)

	after := sim.Actual()
	for i := range parked {
		if math.Abs(after[i]-parked[i]) > 1e-6 {
			t.Errorf("component %d drifted after decelerate: %v -> %v", i, parked[i], after[i])
		}
	}
}

func TestAxisCalibration_RoundTrip(t *testing.T) {
	ax := AxisCalibration{ID: 1, RawMin: 0, RawMax: 4095, Min: -math.Pi, Max: math.Pi}

	for _, v := range []float64{-math.Pi, -1, 0, 0.5, math.Pi} {
		raw := ax.denormalize(v)
		back := ax.normalize(raw)
		if math.Abs(back-v) > (ax.Max-ax.Min)/4095 {
			t.Errorf("round trip %v -> %d -> %v exceeds one count", v, raw, back)
		}
	}

	// Out-of-range values clamp to the calibrated span.
	if got := ax.denormalize(10); got > ax.RawMax {
		t.Errorf("over-range: got raw %d beyond %d", got, ax.RawMax)
	}
	if got := ax.denormalize(-10); got < ax.RawMin {
		t.Errorf("under-range: got raw %d below %d", got, ax.RawMin)
	}
}
