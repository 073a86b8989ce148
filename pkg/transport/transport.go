// Package transport provides actuator transports for the control loop.
//
// This package follows the Interface Segregation Principle (ISP) by defining
// small, focused interfaces that can be composed as needed. The control loop
// depends on the composite Transport; consumers that only read state should
// depend on StateReader alone.
//
// Transports are expected to complete SendTarget and ReadState well within
// one control tick; a transport that cannot should report its link as
// unrecoverable rather than block the loop.
package transport

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

// Well-known state channel names. Every transport publishes ChannelActualPose;
// the rest are optional.
const (
	ChannelActualPose     = "actual_pose"
	ChannelJointPositions = "joint_positions"
)

// TargetWriter dispatches a target pose to the actuator. Fire-and-forget:
// the call returns once the command is handed to the link, not when the
// actuator reaches the pose.
type TargetWriter interface {
	SendTarget(ctx context.Context, target pose.Pose) error
}

// StateReader reads the actuator's current measured configuration as named
// numeric channels.
type StateReader interface {
	ReadState(ctx context.Context) (map[string][]float64, error)
}

// Decelerator brings the actuator to a controlled stop. Called exactly once
// during control-loop cleanup, on both the normal and failure paths.
type Decelerator interface {
	Decelerate(ctx context.Context) error
}

// Transport is the composite actuator capability the control loop consumes.
type Transport interface {
	TargetWriter
	StateReader
	Decelerator
	Close() error
}

// Error wraps a transport failure. Unrecoverable marks the link as dead:
// the control loop escalates immediately instead of retrying next tick.
type Error struct {
	Op            string
	Unrecoverable bool
	Err           error
}

func (e *Error) Error() string {
	if e.Unrecoverable {
		return fmt.Sprintf("transport: %s: link unrecoverable: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
