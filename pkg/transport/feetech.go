package transport

import (
	"context"
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

// AxisCalibration maps one pose component onto one bus servo: raw encoder
// counts [RawMin, RawMax] correspond linearly to engineering values
// [Min, Max] (meters or radians, depending on the axis).
type AxisCalibration struct {
	ID     int     `json:"id"`
	RawMin int     `json:"raw_min"`
	RawMax int     `json:"raw_max"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// FeetechConfig configures a serial-bus servo transport.
type FeetechConfig struct {
	Port     string
	BaudRate int // defaults to 1_000_000
	Axes     [6]AxisCalibration
}

// Feetech drives six Feetech bus servos (SO-10x-class arms) directly over
// serial. The servo firmware does not interpolate, so the per-tick target
// from the control loop is the setpoint each servo chases.
type Feetech struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
	axes  [6]AxisCalibration
}

// NewFeetech opens the serial bus and enables torque on all six servos.
func NewFeetech(cfg FeetechConfig) (*Feetech, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 1_000_000
	}
	for i, ax := range cfg.Axes {
		if ax.RawMax == ax.RawMin {
			return nil, fmt.Errorf("feetech: axis %d has empty raw range", i)
		}
		if ax.Max == ax.Min {
			return nil, fmt.Errorf("feetech: axis %d has empty value range", i)
		}
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("feetech: open bus: %w", err)
	}

	ids := make([]int, len(cfg.Axes))
	for i, ax := range cfg.Axes {
		ids[i] = ax.ID
	}
	group := feetech.NewServoGroupByIDs(bus, ids...)

	if err := group.EnableAll(context.Background()); err != nil {
		bus.Close()
		return nil, fmt.Errorf("feetech: enable torque: %w", err)
	}

	return &Feetech{bus: bus, group: group, axes: cfg.Axes}, nil
}

// SendTarget writes all six servo positions in one sync write.
func (f *Feetech) SendTarget(ctx context.Context, target pose.Pose) error {
	positions := make(feetech.PositionMap, len(f.axes))
	for i, ax := range f.axes {
		positions[ax.ID] = ax.denormalize(target[i])
	}
	if err := f.group.SetPositions(ctx, positions); err != nil {
		return &Error{Op: "send target", Err: fmt.Errorf("sync write: %w", err)}
	}
	return nil
}

// ReadState sync-reads all six servo positions and maps them back to pose
// components. Raw counts are published as a second channel for monitoring.
func (f *Feetech) ReadState(ctx context.Context) (map[string][]float64, error) {
	raw, err := f.group.Positions(ctx)
	if err != nil {
		return nil, &Error{Op: "read state", Err: fmt.Errorf("sync read: %w", err)}
	}

	actual := make([]float64, len(f.axes))
	counts := make([]float64, len(f.axes))
	for i, ax := range f.axes {
		r, ok := raw[ax.ID]
		if !ok {
			return nil, &Error{Op: "read state", Err: fmt.Errorf("servo %d missing from sync read", ax.ID)}
		}
		actual[i] = ax.normalize(r)
		counts[i] = float64(r)
	}
	return map[string][]float64{
		ChannelActualPose:     actual,
		ChannelJointPositions: counts,
	}, nil
}

// Decelerate holds the arm by commanding the currently measured positions.
// Torque stays enabled; dropping it would let the arm fall.
func (f *Feetech) Decelerate(ctx context.Context) error {
	raw, err := f.group.Positions(ctx)
	if err != nil {
		return &Error{Op: "decelerate", Err: fmt.Errorf("read hold positions: %w", err)}
	}
	hold := make(feetech.PositionMap, len(raw))
	for id, r := range raw {
		hold[id] = r
	}
	if err := f.group.SetPositions(ctx, hold); err != nil {
		return &Error{Op: "decelerate", Err: fmt.Errorf("write hold positions: %w", err)}
	}
	return nil
}

// Close releases the serial bus.
func (f *Feetech) Close() error {
	return f.bus.Close()
}

func (a AxisCalibration) normalize(raw int) float64 {
	span := float64(a.RawMax - a.RawMin)
	return a.Min + float64(raw-a.RawMin)/span*(a.Max-a.Min)
}

func (a AxisCalibration) denormalize(v float64) int {
	if v < a.Min {
		v = a.Min
	}
	if v > a.Max {
		v = a.Max
	}
	span := float64(a.RawMax - a.RawMin)
	return a.RawMin + int((v-a.Min)/(a.Max-a.Min)*span)
}
