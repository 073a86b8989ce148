// Package config loads armctl's flat configuration record from the
// environment. Every knob has a documented default; CLI flags override the
// loaded values in cmd/armctl.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/teslashibe/go-armctl/pkg/controller"
)

// App is the full armctl configuration.
type App struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"ARMCTL_LOG_LEVEL" envDefault:"info"`

	// Transport selects the actuator transport: sim, http, ws or feetech.
	Transport string `env:"ARMCTL_TRANSPORT" envDefault:"sim"`

	// DaemonURL is the robot daemon base URL for the http transport.
	DaemonURL string `env:"ARMCTL_DAEMON_URL" envDefault:"http://127.0.0.1:8000"`

	// ControlWSURL is the daemon control socket for the ws transport.
	ControlWSURL string `env:"ARMCTL_CONTROL_WS_URL" envDefault:"ws://127.0.0.1:8000/ws/control"`

	// SerialPort and Calibration configure the feetech transport.
	SerialPort  string `env:"ARMCTL_SERIAL_PORT" envDefault:"/dev/ttyACM0"`
	Calibration string `env:"ARMCTL_CALIBRATION" envDefault:""`

	// DashboardAddr enables the monitoring dashboard when non-empty
	// (e.g. ":8090").
	DashboardAddr string `env:"ARMCTL_DASHBOARD_ADDR" envDefault:""`

	Frequency             float64       `env:"ARMCTL_FREQUENCY" envDefault:"125"`
	MaxPosSpeed           float64       `env:"ARMCTL_MAX_POS_SPEED" envDefault:"0.25"`
	MaxRotSpeed           float64       `env:"ARMCTL_MAX_ROT_SPEED" envDefault:"0.16"`
	LaunchTimeout         time.Duration `env:"ARMCTL_LAUNCH_TIMEOUT" envDefault:"3s"`
	QueueCapacity         int           `env:"ARMCTL_QUEUE_CAPACITY" envDefault:"256"`
	StateHistory          int           `env:"ARMCTL_STATE_HISTORY" envDefault:"128"`
	GetTimeBudget         time.Duration `env:"ARMCTL_GET_TIME_BUDGET" envDefault:"200ms"`
	ConsecutiveErrorLimit int           `env:"ARMCTL_ERROR_LIMIT" envDefault:"10"`

	// Passthrough forwards raw command targets without interpolation, for
	// actuators whose native firmware already interpolates.
	Passthrough bool `env:"ARMCTL_PASSTHROUGH" envDefault:"false"`
}

// Load reads the configuration from the environment.
func Load() (App, error) {
	var a App
	if err := env.Parse(&a); err != nil {
		return App{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return a, nil
}

// ControllerConfig maps the app configuration onto the controller's record.
func (a App) ControllerConfig() controller.Config {
	cfg := controller.DefaultConfig()
	cfg.Frequency = a.Frequency
	cfg.MaxPosSpeed = a.MaxPosSpeed
	cfg.MaxRotSpeed = a.MaxRotSpeed
	cfg.LaunchTimeout = a.LaunchTimeout
	cfg.QueueCapacity = a.QueueCapacity
	cfg.StateHistory = a.StateHistory
	cfg.GetTimeBudget = a.GetTimeBudget
	cfg.ConsecutiveErrorLimit = a.ConsecutiveErrorLimit
	cfg.Passthrough = a.Passthrough
	return cfg
}
