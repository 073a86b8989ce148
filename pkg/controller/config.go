package controller

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

// Default configuration values. Frequency and speed defaults follow common
// collaborative-arm practice: 125 Hz command rate with translation and
// rotation capped around 5% of typical maximum speed.
const (
	DefaultFrequency             = 125.0
	DefaultMaxPosSpeed           = 0.25 // m/s
	DefaultMaxRotSpeed           = 0.16 // rad/s
	DefaultLaunchTimeout         = 3 * time.Second
	DefaultQueueCapacity         = 256
	DefaultStateHistory          = 128
	DefaultGetTimeBudget         = 200 * time.Millisecond
	DefaultInitialMoveDuration   = 3 * time.Second
	DefaultConsecutiveErrorLimit = 10
)

// Config is the flat configuration record for a Controller.
type Config struct {
	// Frequency is the control loop rate in Hz.
	Frequency float64

	// MaxPosSpeed and MaxRotSpeed bound the interpolated trajectory's
	// translational (m/s) and rotational (rad/s) speed.
	MaxPosSpeed float64
	MaxRotSpeed float64

	// LaunchTimeout bounds the wait for the loop's readiness event.
	LaunchTimeout time.Duration

	// QueueCapacity is the command queue's fixed capacity.
	QueueCapacity int

	// StateHistory is the ring buffer's snapshot capacity.
	StateHistory int

	// GetTimeBudget bounds GetState's wait for the first snapshot.
	GetTimeBudget time.Duration

	// InitialTarget, when set, is driven to during launch before the loop
	// starts ticking, waiting InitialMoveDuration for the move to settle.
	InitialTarget       *pose.Pose
	InitialMoveDuration time.Duration

	// ConsecutiveErrorLimit is the explicit threshold of back-to-back
	// transport failures that escalates to a fatal stop.
	ConsecutiveErrorLimit int

	// Passthrough disables trajectory interpolation and forwards raw command
	// targets each tick. Intended for actuators whose native firmware
	// already interpolates; speed limits do not apply in this mode.
	Passthrough bool

	// LockOSThread pins the control goroutine to its OS thread while the
	// loop runs, as a scheduling hint for tick stability.
	LockOSThread bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Frequency:             DefaultFrequency,
		MaxPosSpeed:           DefaultMaxPosSpeed,
		MaxRotSpeed:           DefaultMaxRotSpeed,
		LaunchTimeout:         DefaultLaunchTimeout,
		QueueCapacity:         DefaultQueueCapacity,
		StateHistory:          DefaultStateHistory,
		GetTimeBudget:         DefaultGetTimeBudget,
		InitialMoveDuration:   DefaultInitialMoveDuration,
		ConsecutiveErrorLimit: DefaultConsecutiveErrorLimit,
		LockOSThread:          true,
	}
}

// Validate checks the configured ranges.
func (c Config) Validate() error {
	if c.Frequency <= 0 {
		return fmt.Errorf("controller: frequency must be positive, got %v", c.Frequency)
	}
	if c.MaxPosSpeed <= 0 {
		return fmt.Errorf("controller: max pos speed must be positive, got %v", c.MaxPosSpeed)
	}
	if c.MaxRotSpeed <= 0 {
		return fmt.Errorf("controller: max rot speed must be positive, got %v", c.MaxRotSpeed)
	}
	if c.LaunchTimeout <= 0 {
		return fmt.Errorf("controller: launch timeout must be positive, got %v", c.LaunchTimeout)
	}
	if c.QueueCapacity < 2 {
		return fmt.Errorf("controller: queue capacity must be at least 2, got %d", c.QueueCapacity)
	}
	if c.StateHistory <= 0 {
		return fmt.Errorf("controller: state history must be positive, got %d", c.StateHistory)
	}
	if c.GetTimeBudget <= 0 {
		return fmt.Errorf("controller: get time budget must be positive, got %v", c.GetTimeBudget)
	}
	if c.ConsecutiveErrorLimit <= 0 {
		return fmt.Errorf("controller: consecutive error limit must be positive, got %d", c.ConsecutiveErrorLimit)
	}
	if c.InitialTarget != nil {
		if !c.InitialTarget.IsFinite() {
			return fmt.Errorf("controller: initial target pose has non-finite components")
		}
		if c.InitialMoveDuration <= 0 {
			return fmt.Errorf("controller: initial move duration must be positive, got %v", c.InitialMoveDuration)
		}
	}
	return nil
}
