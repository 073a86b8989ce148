// Package trajectory provides a pure, immutable pose-trajectory interpolator.
//
// An Interpolator holds a strictly time-ordered sequence of (time, pose)
// waypoints and evaluates the piecewise path between them. Every mutating
// operation returns a new Interpolator; the control loop treats the value as
// replace-on-update, which keeps it safe as single-goroutine private state.
package trajectory

import (
	"fmt"
	"sort"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

// timeEpsilon is the minimum spacing enforced between waypoint times when an
// insertion would otherwise collide with an existing waypoint.
const timeEpsilon = 1e-6

type waypoint struct {
	t float64
	p pose.Pose
}

// Interpolator is an immutable piecewise pose path. The zero value is not
// usable; construct with New.
type Interpolator struct {
	wps []waypoint
}

// New returns an interpolator holding a single waypoint.
// Times are seconds on the caller's monotonic base.
func New(t float64, p pose.Pose) *Interpolator {
	return &Interpolator{wps: []waypoint{{t: t, p: p}}}
}

// Times returns a copy of the waypoint times, strictly increasing.
func (in *Interpolator) Times() []float64 {
	out := make([]float64, len(in.wps))
	for i, wp := range in.wps {
		out[i] = wp.t
	}
	return out
}

// StartTime returns the first waypoint's time.
func (in *Interpolator) StartTime() float64 { return in.wps[0].t }

// EndTime returns the last waypoint's time.
func (in *Interpolator) EndTime() float64 { return in.wps[len(in.wps)-1].t }

// Len returns the number of waypoints.
func (in *Interpolator) Len() int { return len(in.wps) }

// At evaluates the path at time t.
//
// Queries before the first waypoint return the first pose (no backward
// extrapolation). Queries past the last waypoint return the last pose: this
// is the hold-last policy, a deliberate clamp rather than forward
// extrapolation, so a stalled command stream parks the actuator instead of
// drifting it.
func (in *Interpolator) At(t float64) pose.Pose {
	wps := in.wps
	if t <= wps[0].t {
		return wps[0].p
	}
	last := len(wps) - 1
	if t >= wps[last].t {
		return wps[last].p
	}
	// First waypoint with time >= t; t is strictly inside the span here.
	i := sort.Search(len(wps), func(i int) bool { return wps[i].t >= t })
	a, b := wps[i-1], wps[i]
	s := (t - a.t) / (b.t - a.t)
	return pose.Interpolate(a.p, b.p, s)
}

// DriveToWaypoint discards all waypoints strictly after currTime, re-seeds
// the path with the pose evaluated at currTime, and appends target at time t.
// If the implied translational or rotational speed between the two would
// exceed maxPosSpeed or maxRotSpeed, t is pushed forward to the minimum
// duration that respects both limits. The discard is deliberate: a servo
// command replaces the planned future rather than blending with it, which
// avoids discontinuities when commands arrive late.
func (in *Interpolator) DriveToWaypoint(target pose.Pose, t, currTime, maxPosSpeed, maxRotSpeed float64) *Interpolator {
	if t < currTime {
		t = currTime
	}
	curr := in.At(currTime)

	duration := t - currTime
	if min := minDuration(curr, target, maxPosSpeed, maxRotSpeed); duration < min {
		duration = min
	}
	if duration < timeEpsilon {
		duration = timeEpsilon
	}

	return &Interpolator{wps: []waypoint{
		{t: currTime, p: curr},
		{t: currTime + duration, p: target},
	}}
}

// ScheduleWaypoint inserts target at time t without discarding the waypoints
// between currTime and t. A t at or before currTime is an expired command and
// returns the receiver unchanged. If t is not after lastWaypointTime, the
// effective time becomes lastWaypointTime + epsilon so ordering is preserved.
// The speed limits apply relative to the immediately preceding waypoint and
// push the effective time further out when violated.
func (in *Interpolator) ScheduleWaypoint(target pose.Pose, t, maxPosSpeed, maxRotSpeed, currTime, lastWaypointTime float64) *Interpolator {
	if t <= currTime {
		return in
	}
	if t <= lastWaypointTime {
		t = lastWaypointTime + timeEpsilon
	}

	// Keep the already-planned path up to the insertion point; drop anything
	// the new waypoint supersedes.
	end := lastWaypointTime
	if t < end {
		end = t
	}
	if end < currTime {
		end = currTime
	}
	trimmed := in.trim(currTime, end)

	prev := trimmed.wps[len(trimmed.wps)-1]
	insertAt := t
	if min := prev.t + minDuration(prev.p, target, maxPosSpeed, maxRotSpeed); insertAt < min {
		insertAt = min
	}
	if insertAt <= prev.t {
		insertAt = prev.t + timeEpsilon
	}

	wps := make([]waypoint, len(trimmed.wps), len(trimmed.wps)+1)
	copy(wps, trimmed.wps)
	wps = append(wps, waypoint{t: insertAt, p: target})
	return &Interpolator{wps: wps}
}

// trim returns the sub-path on [start, end], evaluating the boundary poses
// and keeping interior waypoints. start must not exceed end.
func (in *Interpolator) trim(start, end float64) *Interpolator {
	if end < start {
		panic(fmt.Sprintf("trajectory: trim end %v before start %v", end, start))
	}
	wps := make([]waypoint, 0, len(in.wps)+2)
	wps = append(wps, waypoint{t: start, p: in.At(start)})
	for _, wp := range in.wps {
		if wp.t > start && wp.t < end {
			wps = append(wps, wp)
		}
	}
	if end > start {
		wps = append(wps, waypoint{t: end, p: in.At(end)})
	}
	return &Interpolator{wps: wps}
}

// minDuration returns the smallest time delta between two poses that keeps
// translational and rotational speed within the given limits.
func minDuration(from, to pose.Pose, maxPosSpeed, maxRotSpeed float64) float64 {
	posDist, rotDist := pose.Distance(from, to)
	min := 0.0
	if maxPosSpeed > 0 {
		if d := posDist / maxPosSpeed; d > min {
			min = d
		}
	}
	if maxRotSpeed > 0 {
		if d := rotDist / maxRotSpeed; d > min {
			min = d
		}
	}
	return min
}
