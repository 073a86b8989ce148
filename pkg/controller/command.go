package controller

import (
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

// CommandType tags the command variant carried through the queue.
type CommandType int

const (
	// CommandStop terminates the control loop. Commands queued after a Stop
	// in the same drained batch are ignored.
	CommandStop CommandType = iota

	// CommandServoL moves to TargetPose, arriving Duration seconds after
	// issuance, starting from the latest known trajectory position.
	CommandServoL

	// CommandScheduleWaypoint inserts TargetPose at the wall-clock
	// TargetTime, velocity-limited relative to the preceding waypoint.
	CommandScheduleWaypoint
)

func (t CommandType) String() string {
	switch t {
	case CommandStop:
		return "stop"
	case CommandServoL:
		return "servoL"
	case CommandScheduleWaypoint:
		return "schedule_waypoint"
	default:
		return "unknown"
	}
}

// Command is one queued instruction for the control loop. Ownership passes
// to the loop on dequeue. ID correlates log lines across the producer and
// the loop.
type Command struct {
	ID   uuid.UUID
	Type CommandType

	TargetPose pose.Pose

	// Duration is the desired seconds to reach TargetPose (ServoL only).
	Duration float64

	// TargetTime is the wall-clock arrival time (ScheduleWaypoint only).
	// The loop translates it onto its monotonic clock.
	TargetTime time.Time
}
