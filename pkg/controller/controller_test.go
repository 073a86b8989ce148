package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-armctl/pkg/ipc"
	"github.com/teslashibe/go-armctl/pkg/pose"
	"github.com/teslashibe/go-armctl/pkg/transport"
)

// mockTransport records sent targets and serves a fixed measured pose.
// Failures are injected per call counter.
type mockTransport struct {
	mu          sync.Mutex
	sent        []pose.Pose
	actual      pose.Pose
	sendErr     error
	failAfter   int // fail every SendTarget once this many have succeeded (0 = never)
	sends       int
	readDelay   time.Duration
	decelerated int
	closed      bool
}

func (m *mockTransport) SendTarget(_ context.Context, target pose.Pose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	if m.failAfter > 0 && m.sends > m.failAfter {
		if m.sendErr != nil {
			return m.sendErr
		}
		return &transport.Error{Op: "send target", Err: errors.New("injected failure")}
	}
	m.sent = append(m.sent, target)
	m.actual = target
	return nil
}

func (m *mockTransport) ReadState(_ context.Context) (map[string][]float64, error) {
	m.mu.Lock()
	delay := m.readDelay
	actual := m.actual
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	out := make([]float64, 6)
	copy(out, actual[:])
	return map[string][]float64{transport.ChannelActualPose: out}, nil
}

func (m *mockTransport) Decelerate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decelerated++
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTransport) lastSent() (pose.Pose, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return pose.Pose{}, false
	}
	return m.sent[len(m.sent)-1], true
}

func (m *mockTransport) decelerateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decelerated
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Frequency = 100
	cfg.LaunchTimeout = time.Second
	cfg.GetTimeBudget = 100 * time.Millisecond
	cfg.LockOSThread = false
	return cfg
}

func TestController_StartStopLifecycle(t *testing.T) {
	mock := &mockTransport{}
	ctrl, err := New(mock, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := ctrl.Start(true); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := ctrl.State(); got != StateRunning {
		t.Errorf("state after start: got %v, want running", got)
	}
	if !ctrl.IsReady() {
		t.Error("not ready after start")
	}

	if err := ctrl.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := ctrl.State(); got != StateStopped {
		t.Errorf("state after stop: got %v, want stopped", got)
	}
	if got := mock.decelerateCount(); got != 1 {
		t.Errorf("decelerate calls: got %d, want 1", got)
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _ := New(mock, testConfig())

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Stop(true); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := ctrl.Stop(true); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if got := ctrl.State(); got != StateStopped {
		t.Errorf("state: got %v, want stopped", got)
	}
	// Cleanup ran exactly once.
	if got := mock.decelerateCount(); got != 1 {
		t.Errorf("decelerate calls: got %d, want 1", got)
	}
}

func TestController_DoubleStart(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _ := New(mock, testConfig())

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}
	defer ctrl.Stop(true)

	if err := ctrl.Start(false); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start: got %v, want ErrAlreadyStarted", err)
	}
}

func TestController_LaunchTimeout(t *testing.T) {
	mock := &mockTransport{readDelay: 300 * time.Millisecond}
	cfg := testConfig()
	cfg.LaunchTimeout = 50 * time.Millisecond
	ctrl, _ := New(mock, cfg)

	err := ctrl.Start(true)
	if !errors.Is(err, ErrLaunchTimeout) {
		t.Errorf("start: got %v, want ErrLaunchTimeout", err)
	}

	// The loop may still be alive; a stop must still work.
	ctrl.Stop(true)
}

func TestController_GetStateBeforeFirstTickTimesOut(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _ := New(mock, testConfig())

	start := time.Now()
	_, err := ctrl.GetState()
	if !errors.Is(err, ipc.ErrTimeout) {
		t.Errorf("got %v, want ipc.ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("took %v, should not hang", elapsed)
	}
}

func TestController_PublishesState(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _ := New(mock, testConfig())

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}
	defer ctrl.Stop(true)

	snap, err := ctrl.GetState()
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if len(snap.Channels[transport.ChannelActualPose]) != 6 {
		t.Errorf("snapshot channels: %v", snap.Channels)
	}
	if snap.ReceiveTimestamp.IsZero() {
		t.Error("snapshot has zero receive timestamp")
	}

	// History accumulates in publish order.
	time.Sleep(100 * time.Millisecond)
	history := ctrl.GetStateHistory(5)
	if len(history) < 2 {
		t.Fatalf("history: got %d snapshots, want >= 2", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ReceiveTimestamp.Before(history[i-1].ReceiveTimestamp) {
			t.Errorf("history out of order at %d", i)
		}
	}
}

func TestController_ServoToReachesTarget(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _ := New(mock, testConfig())

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}
	defer ctrl.Stop(true)

	target := pose.Pose{0.05, 0, 0, 0, 0, 0}
	if err := ctrl.ServoTo(target, 0.1); err != nil {
		t.Fatalf("servo_to: %v", err)
	}

	// Well past duration plus speed-limit slack, the dispatched target has
	// converged on the commanded pose (hold-last).
	time.Sleep(500 * time.Millisecond)
	got, ok := mock.lastSent()
	if !ok {
		t.Fatal("no targets sent")
	}
	for i := range target {
		if diff := got[i] - target[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("component %d: got %v, want %v", i, got[i], target[i])
		}
	}
}

func TestController_CommandValidation(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _ := New(mock, testConfig())

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}
	defer ctrl.Stop(true)

	var cmdErr *CommandError

	// Duration below one control period is rejected, not clamped.
	if err := ctrl.ServoTo(pose.Pose{}, 0.001); !errors.As(err, &cmdErr) {
		t.Errorf("short duration: got %v, want CommandError", err)
	}

	// Non-finite poses are rejected.
	bad := pose.Pose{0, 0, 0, 0, 0, 0}
	bad[0] = nan()
	if err := ctrl.ServoTo(bad, 0.5); !errors.As(err, &cmdErr) {
		t.Errorf("non-finite pose: got %v, want CommandError", err)
	}

	// Waypoints must be strictly in the future.
	if err := ctrl.ScheduleWaypoint(pose.Pose{}, time.Now().Add(-time.Second)); !errors.As(err, &cmdErr) {
		t.Errorf("past waypoint: got %v, want CommandError", err)
	}
}

func TestController_CommandsRejectedWhenNotRunning(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _ := New(mock, testConfig())

	if err := ctrl.ServoTo(pose.Pose{}, 0.5); !errors.Is(err, ErrNotRunning) {
		t.Errorf("servo_to before start: got %v, want ErrNotRunning", err)
	}
	if err := ctrl.ScheduleWaypoint(pose.Pose{}, time.Now().Add(time.Second)); !errors.Is(err, ErrNotRunning) {
		t.Errorf("schedule before start: got %v, want ErrNotRunning", err)
	}
}

func TestController_ConsecutiveErrorsEscalate(t *testing.T) {
	mock := &mockTransport{failAfter: 3}
	cfg := testConfig()
	cfg.ConsecutiveErrorLimit = 5
	ctrl, _ := New(mock, cfg)

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not fail within 2s")
	}

	if got := ctrl.State(); got != StateFailed {
		t.Errorf("state: got %v, want failed", got)
	}
	if ctrl.Err() == nil {
		t.Error("Err() is nil after failure")
	}
	// Cleanup still ran on the failure path.
	if got := mock.decelerateCount(); got != 1 {
		t.Errorf("decelerate calls: got %d, want 1", got)
	}
	// A stop after failure must not hang or error.
	if err := ctrl.Stop(true); err != nil {
		t.Errorf("stop after failure: %v", err)
	}
}

func TestController_UnrecoverableErrorFailsImmediately(t *testing.T) {
	mock := &mockTransport{
		failAfter: 3,
		sendErr:   &transport.Error{Op: "send target", Unrecoverable: true, Err: errors.New("link down")},
	}
	cfg := testConfig()
	cfg.ConsecutiveErrorLimit = 1000 // must not matter for an unrecoverable link
	ctrl, _ := New(mock, cfg)

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not fail within 2s")
	}
	if got := ctrl.State(); got != StateFailed {
		t.Errorf("state: got %v, want failed", got)
	}
}

func TestController_TickRate(t *testing.T) {
	mock := &mockTransport{}
	cfg := testConfig()
	cfg.Frequency = 100
	ctrl, _ := New(mock, cfg)

	if err := ctrl.Start(true); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	ctrl.Stop(true)

	// ~20 ticks at 100 Hz over 200ms, with scheduler tolerance.
	count := mock.sentCount()
	if count < 10 || count > 40 {
		t.Errorf("sent %d targets over 200ms at 100Hz, want ~20", count)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero frequency", func(c *Config) { c.Frequency = 0 }},
		{"negative pos speed", func(c *Config) { c.MaxPosSpeed = -1 }},
		{"zero rot speed", func(c *Config) { c.MaxRotSpeed = 0 }},
		{"zero queue capacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"single-slot queue", func(c *Config) { c.QueueCapacity = 1 }},
		{"zero history", func(c *Config) { c.StateHistory = 0 }},
		{"zero launch timeout", func(c *Config) { c.LaunchTimeout = 0 }},
		{"zero error limit", func(c *Config) { c.ConsecutiveErrorLimit = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
