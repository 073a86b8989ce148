// Package controller runs the real-time actuator control loop and exposes
// the handle the orchestrator drives it through.
//
// The loop runs in a dedicated goroutine (optionally pinned to its OS
// thread) and shares nothing with the rest of the program except the command
// queue and the state ring buffer. Unrelated work in the orchestrator can
// therefore never jitter the tick: the loop blocks only on its own timed
// sleep and the actuator transport.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/ipc"
	"github.com/teslashibe/go-armctl/pkg/pose"
	"github.com/teslashibe/go-armctl/pkg/trajectory"
	"github.com/teslashibe/go-armctl/pkg/transport"
)

// State is the control loop's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateLaunching
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// cleanupTimeout bounds the decelerate call during shutdown so a dead link
// cannot wedge the exit path.
const cleanupTimeout = 2 * time.Second

// errorLogInterval rate-limits per-tick transport error logging.
const errorLogInterval = 5 * time.Second

// Controller owns the control loop and the two IPC primitives connecting it
// to the orchestrator. Command methods write to the queue; state accessors
// read from the ring buffer. The Controller's lifetime bounds both.
type Controller struct {
	cfg   Config
	trans transport.Transport
	queue *ipc.Queue[Command]
	ring  *ipc.RingBuffer
	log   *slog.Logger

	sessionID uuid.UUID

	started atomic.Bool
	state   atomic.Int32

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once

	errMu   sync.Mutex
	loopErr error
}

// New creates a Controller over the given transport. The command queue and
// ring buffer are created here, before the loop starts, and are released
// only after it has fully stopped.
func New(trans transport.Transport, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	queue, err := ipc.NewQueue[Command](cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}
	ring, err := ipc.NewRingBuffer(cfg.StateHistory, cfg.Frequency)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New()
	return &Controller{
		cfg:       cfg,
		trans:     trans,
		queue:     queue,
		ring:      ring,
		log:       log.With("component", "controller", "session", sessionID.String()),
		sessionID: sessionID,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// State returns the loop's current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Config returns the configuration the controller was created with.
func (c *Controller) Config() Config { return c.cfg }

// IsReady reports whether the readiness event has been signaled.
func (c *Controller) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Done is closed when the control loop has fully exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Err returns the fatal error that forced the loop into Failed, or nil.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.loopErr
}

// Start spawns the control loop. With wait, it blocks until the loop signals
// readiness, failing with ErrLaunchTimeout if the signal does not arrive
// within LaunchTimeout. A launch that signals readiness from its failure
// path returns the underlying fatal error instead.
func (c *Controller) Start(wait bool) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.state.Store(int32(StateLaunching))
	c.log.Info("control loop starting",
		"frequency_hz", c.cfg.Frequency,
		"max_pos_speed", c.cfg.MaxPosSpeed,
		"max_rot_speed", c.cfg.MaxRotSpeed,
		"passthrough", c.cfg.Passthrough)
	go c.run()

	if wait {
		return c.StartWait()
	}
	return nil
}

// StartWait blocks until readiness or LaunchTimeout.
func (c *Controller) StartWait() error {
	t := time.NewTimer(c.cfg.LaunchTimeout)
	defer t.Stop()
	select {
	case <-c.ready:
	case <-t.C:
		return ErrLaunchTimeout
	}
	if c.State() == StateFailed {
		return c.Err()
	}
	return nil
}

// Stop requests a graceful stop. Idempotent: a second call is a no-op. With
// wait, it blocks until the loop has fully exited, including cleanup; this
// wait is deliberately unbounded because shutdown must finish decelerating
// the actuator.
func (c *Controller) Stop(wait bool) error {
	if !c.started.Load() {
		return nil
	}
	c.stopOnce.Do(func() {
		if err := c.queue.Put(Command{ID: uuid.New(), Type: CommandStop}); err != nil {
			// Queue full: fall back to the out-of-band stop signal so the
			// loop still observes the request.
			close(c.stopCh)
		}
	})
	if wait {
		c.StopWait()
	}
	return nil
}

// StopWait blocks until the loop has exited.
func (c *Controller) StopWait() { <-c.done }

// Close stops the loop if needed and releases the transport. Teardown order:
// stop signal, loop cleanup (decelerate), then transport release. The queue
// and ring buffer become garbage only after the loop has exited.
func (c *Controller) Close() error {
	c.Stop(true)
	return c.trans.Close()
}

// ServoTo commands a move to target arriving duration seconds from now,
// starting from the latest trajectory position. duration must be at least
// one control period.
func (c *Controller) ServoTo(target pose.Pose, duration float64) error {
	if !target.IsFinite() {
		return invalidArgument("servo_to", "pose has non-finite components")
	}
	if minDur := 1.0 / c.cfg.Frequency; duration < minDur {
		return invalidArgument("servo_to", "duration %v below control period %v", duration, minDur)
	}
	if c.State() != StateRunning {
		return ErrNotRunning
	}
	return c.queue.Put(Command{
		ID:         uuid.New(),
		Type:       CommandServoL,
		TargetPose: target,
		Duration:   duration,
	})
}

// ScheduleWaypoint inserts target into the planned trajectory at the given
// wall-clock time, which must be strictly in the future.
func (c *Controller) ScheduleWaypoint(target pose.Pose, at time.Time) error {
	if !target.IsFinite() {
		return invalidArgument("schedule_waypoint", "pose has non-finite components")
	}
	if !at.After(time.Now()) {
		return invalidArgument("schedule_waypoint", "target time %v is not in the future", at)
	}
	if c.State() != StateRunning {
		return ErrNotRunning
	}
	return c.queue.Put(Command{
		ID:         uuid.New(),
		Type:       CommandScheduleWaypoint,
		TargetPose: target,
		TargetTime: at,
	})
}

// GetState returns the most recent state snapshot, waiting up to
// GetTimeBudget for the first publication.
func (c *Controller) GetState() (ipc.StateSnapshot, error) {
	return c.ring.GetLatest(c.cfg.GetTimeBudget)
}

// GetStateHistory returns up to k recent snapshots, oldest first.
func (c *Controller) GetStateHistory(k int) []ipc.StateSnapshot {
	return c.ring.GetLastK(k)
}

// GetAllStates returns every retained snapshot, oldest first.
func (c *Controller) GetAllStates() []ipc.StateSnapshot {
	return c.ring.GetAll()
}

// run is the control process. It owns the trajectory interpolator outright;
// no other goroutine ever sees it.
func (c *Controller) run() {
	if c.cfg.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	var fatal error
	defer func() {
		c.state.Store(int32(StateStopping))

		// Mandatory cleanup on every exit path: bring the actuator to a
		// controlled stop before anything is released.
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := c.trans.Decelerate(ctx); err != nil {
			c.log.Error("decelerate during cleanup failed", "error", err)
		}
		cancel()

		if fatal != nil {
			c.errMu.Lock()
			c.loopErr = &fatalError{err: fatal}
			c.errMu.Unlock()
			c.state.Store(int32(StateFailed))
			c.log.Error("control loop failed", "error", fatal)
		} else {
			c.state.Store(int32(StateStopped))
			c.log.Info("control loop stopped")
		}

		// Signal readiness even on failure so no launcher waits forever.
		c.signalReady()
		close(c.done)
	}()

	ctx := context.Background()

	// Optionally drive the actuator to its initial configuration, blocking
	// and bounded, before the first tick.
	if c.cfg.InitialTarget != nil {
		ictx, cancel := context.WithTimeout(ctx, c.cfg.InitialMoveDuration)
		err := c.trans.SendTarget(ictx, *c.cfg.InitialTarget)
		cancel()
		if err != nil {
			fatal = fmt.Errorf("drive to initial configuration: %w", err)
			return
		}
		if c.sleepInterrupted(c.cfg.InitialMoveDuration) {
			return
		}
	}

	// Seed the trajectory with the actuator's measured pose.
	channels, err := c.trans.ReadState(ctx)
	if err != nil {
		fatal = fmt.Errorf("read initial state: %w", err)
		return
	}
	seed, err := poseFromChannels(channels)
	if err != nil {
		fatal = fmt.Errorf("read initial state: %w", err)
		return
	}

	dt := 1.0 / c.cfg.Frequency
	period := time.Duration(dt * float64(time.Second))

	// All trajectory times live on this monotonic base; the tick boundary is
	// always epoch + iter*period, never an accumulation of relative sleeps.
	epoch := time.Now()
	mono := func() float64 { return time.Since(epoch).Seconds() }

	interp := trajectory.New(mono(), seed)
	lastWaypointTime := interp.EndTime()
	rawTarget := seed

	var (
		iter              uint64
		consecutiveErrors int
		lastErrorLog      time.Time
		signaled          bool
	)

	for {
		tNow := mono()

		// 1. Drain the queue and fold commands in arrival order. A Stop wins
		// over everything queued after it in the same batch.
		stopping := false
		for _, cmd := range c.queue.GetAll() {
			if cmd.Type == CommandStop {
				c.log.Info("stop command received", "command", cmd.ID.String())
				stopping = true
				break
			}
			currTime := tNow + dt
			switch cmd.Type {
			case CommandServoL:
				if c.cfg.Passthrough {
					rawTarget = cmd.TargetPose
					continue
				}
				interp = interp.DriveToWaypoint(
					cmd.TargetPose, currTime+cmd.Duration, currTime,
					c.cfg.MaxPosSpeed, c.cfg.MaxRotSpeed)
				lastWaypointTime = interp.EndTime()
			case CommandScheduleWaypoint:
				if c.cfg.Passthrough {
					rawTarget = cmd.TargetPose
					continue
				}
				// Translate the wall-clock target onto the monotonic base.
				targetTime := mono() + time.Until(cmd.TargetTime).Seconds()
				interp = interp.ScheduleWaypoint(
					cmd.TargetPose, targetTime,
					c.cfg.MaxPosSpeed, c.cfg.MaxRotSpeed,
					currTime, lastWaypointTime)
				lastWaypointTime = interp.EndTime()
			}
			c.log.Debug("command folded",
				"command", cmd.ID.String(),
				"type", cmd.Type.String(),
				"plan_end", lastWaypointTime)
		}
		select {
		case <-c.stopCh:
			stopping = true
		default:
		}
		if stopping {
			return
		}

		// 2. Evaluate the trajectory at this tick and dispatch.
		target := interp.At(tNow)
		if c.cfg.Passthrough {
			target = rawTarget
		}
		tickErr := c.trans.SendTarget(ctx, target)

		// 3. Read measured state and publish a snapshot.
		if tickErr == nil {
			channels, err := c.trans.ReadState(ctx)
			if err != nil {
				tickErr = err
			} else {
				c.ring.Put(ipc.StateSnapshot{
					Channels:         channels,
					ReceiveTimestamp: time.Now(),
				})
			}
		}

		if tickErr != nil {
			consecutiveErrors++
			var terr *transport.Error
			unrecoverable := errors.As(tickErr, &terr) && terr.Unrecoverable
			if unrecoverable || consecutiveErrors >= c.cfg.ConsecutiveErrorLimit {
				fatal = fmt.Errorf("transport failed after %d consecutive ticks: %w",
					consecutiveErrors, tickErr)
				return
			}
			if time.Since(lastErrorLog) > errorLogInterval {
				c.log.Warn("tick transport error, retrying next tick",
					"error", tickErr, "consecutive", consecutiveErrors)
				lastErrorLog = time.Now()
			}
		} else {
			consecutiveErrors = 0
			if !signaled {
				// First successful tick: enter Running and wake the launcher.
				signaled = true
				c.state.Store(int32(StateRunning))
				c.signalReady()
				c.log.Info("control loop ready", "first_tick_s", tNow)
			}
		}

		// 4. Sleep to the next absolute tick boundary.
		iter++
		deadline := epoch.Add(time.Duration(iter) * period)
		if d := time.Until(deadline); d > 0 {
			if c.sleepInterrupted(d) {
				return
			}
		}
	}
}

// sleepInterrupted sleeps for d, returning true if the out-of-band stop
// signal fired first.
func (c *Controller) sleepInterrupted(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.stopCh:
		return true
	case <-t.C:
		return false
	}
}

func (c *Controller) signalReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// poseFromChannels extracts the actuator pose from a state channel map.
func poseFromChannels(channels map[string][]float64) (pose.Pose, error) {
	values := channels[transport.ChannelActualPose]
	if len(values) < 6 {
		return pose.Pose{}, fmt.Errorf("state channel %q has %d values, want 6",
			transport.ChannelActualPose, len(values))
	}
	var p pose.Pose
	copy(p[:], values[:6])
	return p, nil
}
