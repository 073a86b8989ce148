// Command armctl runs the real-time actuator controller: a fixed-frequency
// control loop fed by servo and waypoint commands, with an optional
// monitoring dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-armctl/internal/config"
	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/controller"
	"github.com/teslashibe/go-armctl/pkg/pose"
	"github.com/teslashibe/go-armctl/pkg/transport"
	"github.com/teslashibe/go-armctl/pkg/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment.
	transportName := flag.String("transport", cfg.Transport, "Actuator transport: sim, http, ws or feetech")
	daemonURL := flag.String("daemon-url", cfg.DaemonURL, "Robot daemon base URL (http transport)")
	controlWSURL := flag.String("ws-url", cfg.ControlWSURL, "Daemon control websocket URL (ws transport)")
	serialPort := flag.String("serial-port", cfg.SerialPort, "Serial port (feetech transport)")
	calibration := flag.String("calibration", cfg.Calibration, "Axis calibration JSON file (feetech transport)")
	frequency := flag.Float64("frequency", cfg.Frequency, "Control loop frequency in Hz")
	dashboardAddr := flag.String("dashboard", cfg.DashboardAddr, "Dashboard listen address (empty = disabled)")
	passthrough := flag.Bool("passthrough", cfg.Passthrough, "Forward raw targets without interpolation")
	demo := flag.Bool("demo", false, "Stream a demo waypoint pattern")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.Parse()

	cfg.Transport = *transportName
	cfg.DaemonURL = *daemonURL
	cfg.ControlWSURL = *controlWSURL
	cfg.SerialPort = *serialPort
	cfg.Calibration = *calibration
	cfg.Frequency = *frequency
	cfg.DashboardAddr = *dashboardAddr
	cfg.Passthrough = *passthrough
	cfg.LogLevel = *logLevel

	log.Init(cfg.LogLevel)

	trans, err := buildTransport(cfg)
	if err != nil {
		log.Error("transport setup failed", "transport", cfg.Transport, "error", err)
		os.Exit(1)
	}

	ctrl, err := controller.New(trans, cfg.ControllerConfig())
	if err != nil {
		log.Error("controller setup failed", "error", err)
		os.Exit(1)
	}

	if cfg.DashboardAddr != "" {
		dash := web.NewServer(cfg.DashboardAddr, ctrl)
		dash.StartAsync()
		defer dash.Shutdown()
	}

	if err := ctrl.Start(true); err != nil {
		log.Error("controller launch failed", "error", err)
		// The loop may still be alive after a launch timeout; stop it.
		ctrl.Close()
		os.Exit(1)
	}
	log.Info("controller running",
		"transport", cfg.Transport,
		"frequency_hz", cfg.Frequency,
		"passthrough", cfg.Passthrough)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *demo {
		go runDemo(ctx, ctrl)
	}

	select {
	case <-sigCh:
		log.Info("shutdown requested")
	case <-ctrl.Done():
		// Loop exited on its own; surface why below.
	}
	cancel()

	if err := ctrl.Close(); err != nil {
		log.Error("close failed", "error", err)
	}
	if err := ctrl.Err(); err != nil {
		log.Error("controller exited with error", "error", err)
		os.Exit(1)
	}
}

// buildTransport constructs the configured actuator transport.
func buildTransport(cfg config.App) (transport.Transport, error) {
	switch cfg.Transport {
	case "sim":
		return transport.NewSim(pose.Pose{}, 0.05), nil
	case "http":
		return transport.NewHTTP(cfg.DaemonURL), nil
	case "ws":
		return transport.DialWS(cfg.ControlWSURL)
	case "feetech":
		axes, err := loadCalibration(cfg.Calibration)
		if err != nil {
			return nil, err
		}
		return transport.NewFeetech(transport.FeetechConfig{
			Port: cfg.SerialPort,
			Axes: axes,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// loadCalibration reads the six axis calibrations for the feetech transport.
func loadCalibration(path string) ([6]transport.AxisCalibration, error) {
	var axes [6]transport.AxisCalibration
	if path == "" {
		return axes, fmt.Errorf("feetech transport requires -calibration")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return axes, fmt.Errorf("read calibration file: %w", err)
	}
	if err := json.Unmarshal(data, &axes); err != nil {
		return axes, fmt.Errorf("parse calibration JSON: %w", err)
	}
	return axes, nil
}

// runDemo streams a slow figure in the x/y plane as scheduled waypoints,
// exercising the full command path at a teleop-like rate.
func runDemo(ctx context.Context, ctrl *controller.Controller) {
	snap, err := ctrl.GetState()
	if err != nil {
		log.Error("demo: no initial state", "error", err)
		return
	}
	var center pose.Pose
	copy(center[:], snap.Channels[transport.ChannelActualPose])

	const (
		rate      = 100 * time.Millisecond // 10 Hz command stream
		amplitude = 0.05                   // meters
		horizon   = 300 * time.Millisecond // how far ahead waypoints land
	)

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := time.Since(start).Seconds()
			target := center
			target[0] += amplitude * math.Sin(0.5*t)
			target[1] += amplitude * math.Sin(1.0*t)
			if err := ctrl.ScheduleWaypoint(target, time.Now().Add(horizon)); err != nil {
				log.Warn("demo: waypoint rejected", "error", err)
			}
		}
	}
}
