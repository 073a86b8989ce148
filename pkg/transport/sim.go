package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

// Sim is an in-memory actuator model: a first-order lag tracking the last
// commanded target. It is the reference transport for tests and the demo
// mode, and behaves like an actuator whose firmware does no interpolation of
// its own, so the per-tick target is the setpoint it chases.
type Sim struct {
	mu       sync.Mutex
	target   pose.Pose
	actual   pose.Pose
	tau      float64 // lag time constant in seconds
	lastStep time.Time
}

// NewSim creates a simulated actuator at the given initial pose.
// tau is the first-order lag time constant; 0.05s approximates a stiff servo.
func NewSim(initial pose.Pose, tau float64) *Sim {
	if tau <= 0 {
		tau = 0.05
	}
	return &Sim{
		target:   initial,
		actual:   initial,
		tau:      tau,
		lastStep: time.Now(),
	}
}

// SendTarget records the new setpoint.
func (s *Sim) SendTarget(_ context.Context, target pose.Pose) error {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
	return nil
}

// ReadState advances the lag model by the elapsed wall time and returns the
// simulated measured pose.
func (s *Sim) ReadState(_ context.Context) (map[string][]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	actual := make([]float64, len(s.actual))
	copy(actual, s.actual[:])
	return map[string][]float64{ChannelActualPose: actual}, nil
}

// Decelerate parks the model by collapsing the setpoint onto the current
// simulated position.
func (s *Sim) Decelerate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.target = s.actual
	return nil
}

// Close implements Transport.
func (s *Sim) Close() error { return nil }

// Actual returns the current simulated pose.
func (s *Sim) Actual() pose.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return s.actual
}

// step advances the first-order lag. Caller holds the lock.
func (s *Sim) step() {
	now := time.Now()
	dt := now.Sub(s.lastStep).Seconds()
	s.lastStep = now
	if dt <= 0 {
		return
	}
	alpha := 1 - math.Exp(-dt/s.tau)
	s.actual = pose.Interpolate(s.actual, s.target, alpha)
}
