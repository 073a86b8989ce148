// Package web provides a real-time monitoring dashboard for a running
// controller. It reads exclusively through the controller handle's ring
// buffer accessors, so a browser full of dashboards can never touch the
// control tick.
package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/controller"
	"github.com/teslashibe/go-armctl/pkg/hub"
	"github.com/teslashibe/go-armctl/pkg/ipc"
)

// Source is the view of a controller the dashboard needs.
type Source interface {
	State() controller.State
	Err() error
	Config() controller.Config
	GetState() (ipc.StateSnapshot, error)
	GetStateHistory(k int) []ipc.StateSnapshot
}

// broadcastPeriod is the dashboard's state fan-out rate. Deliberately far
// below the control frequency; browsers don't need 125 Hz.
const broadcastPeriod = 100 * time.Millisecond

// Server is the monitoring dashboard server.
type Server struct {
	app  *fiber.App
	addr string
	src  Source

	stateHub *hub.Hub
	stop     chan struct{}
}

// NewServer creates a dashboard server for the given controller view.
func NewServer(addr string, src Source) *Server {
	s := &Server{
		addr:     addr,
		src:      src,
		stateHub: hub.New("state"),
		stop:     make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "armctl dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/state", s.handleState)
	api.Get("/history", s.handleHistory)
	api.Get("/config", s.handleConfig)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	s.app = app
	return s
}

// Start serves the dashboard. Blocks.
func (s *Server) Start() error {
	log.Info("dashboard listening", "addr", s.addr)
	go s.stateHub.Run()
	go s.broadcastLoop()
	return s.app.Listen(s.addr)
}

// StartAsync serves the dashboard in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("dashboard server error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the dashboard.
func (s *Server) Shutdown() error {
	close(s.stop)
	return s.app.Shutdown()
}

// broadcastLoop pushes fresh snapshots to websocket clients.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.stateHub.ClientCount() == 0 {
				continue
			}
			snap, err := s.src.GetState()
			if err != nil || !snap.ReceiveTimestamp.After(lastSent) {
				continue
			}
			lastSent = snap.ReceiveTimestamp
			s.stateHub.BroadcastJSON(newStateMessage(s.src.State(), snap))
		}
	}
}

// handleStateWS registers a dashboard client on the state hub.
func (s *Server) handleStateWS(c *websocket.Conn) {
	hub.NewClient(s.stateHub, c).Run()
}

// StatusResponse reports controller health for /api/status.
type StatusResponse struct {
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
	Clients int    `json:"clients"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		State:   s.src.State().String(),
		Clients: s.stateHub.ClientCount(),
	}
	if err := s.src.Err(); err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(resp)
}

func (s *Server) handleState(c *fiber.Ctx) error {
	snap, err := s.src.GetState()
	if err != nil {
		if errors.Is(err, ipc.ErrTimeout) {
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
				"error": "no state published yet",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(newStateMessage(s.src.State(), snap))
}

func (s *Server) handleConfig(c *fiber.Ctx) error {
	cfg := s.src.Config()
	return c.JSON(fiber.Map{
		"frequency_hz":            cfg.Frequency,
		"max_pos_speed":           cfg.MaxPosSpeed,
		"max_rot_speed":           cfg.MaxRotSpeed,
		"queue_capacity":          cfg.QueueCapacity,
		"state_history":           cfg.StateHistory,
		"consecutive_error_limit": cfg.ConsecutiveErrorLimit,
		"passthrough":             cfg.Passthrough,
	})
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	k := c.QueryInt("k", 16)
	state := s.src.State()
	history := s.src.GetStateHistory(k)

	out := make([]StateMessage, len(history))
	for i, snap := range history {
		out[i] = newStateMessage(state, snap)
	}
	return c.JSON(out)
}

// StateMessage is the JSON shape shared by /api/state, /api/history and the
// /ws/state stream.
type StateMessage struct {
	State            string               `json:"state"`
	ReceiveTimestamp time.Time            `json:"receive_timestamp"`
	Channels         map[string][]float64 `json:"channels"`
}

func newStateMessage(state controller.State, snap ipc.StateSnapshot) StateMessage {
	return StateMessage{
		State:            state.String(),
		ReceiveTimestamp: snap.ReceiveTimestamp,
		Channels:         snap.Channels,
	}
}
