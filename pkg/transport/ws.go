package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-armctl/pkg/pose"
)

const (
	wsHandshakeTimeout = 5 * time.Second
	wsWriteWait        = 200 * time.Millisecond
)

// WS streams targets to a robot daemon over a persistent websocket and
// consumes the state frames the daemon pushes back. Suited to daemons that
// accept a continuous command stream at the full control rate, where per-tick
// HTTP round trips would be too expensive.
//
// Wire frames are JSON:
//
//	-> {"type": "target", "pose": [6]float64}
//	-> {"type": "stop"}
//	<- {"type": "state", "channels": {"actual_pose": [...], ...}}
type WS struct {
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla allows a single concurrent writer

	stateMu sync.RWMutex
	latest  map[string][]float64

	closeOnce sync.Once
	dead      chan struct{}
	deadErr   error
}

type wsCommand struct {
	Type string      `json:"type"`
	Pose *[6]float64 `json:"pose,omitempty"`
}

type wsStateFrame struct {
	Type     string               `json:"type"`
	Channels map[string][]float64 `json:"channels"`
}

// DialWS connects to the daemon's command websocket
// (e.g. "ws://192.168.68.80:8000/ws/control") and starts consuming state
// frames.
func DialWS(url string) (*WS, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	w := &WS{
		conn: conn,
		dead: make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// readLoop stores the newest state frame until the connection dies.
func (w *WS) readLoop() {
	for {
		var frame wsStateFrame
		if err := w.conn.ReadJSON(&frame); err != nil {
			w.closeOnce.Do(func() {
				w.deadErr = err
				close(w.dead)
			})
			return
		}
		if frame.Type != "state" || len(frame.Channels[ChannelActualPose]) < 6 {
			continue
		}
		w.stateMu.Lock()
		w.latest = frame.Channels
		w.stateMu.Unlock()
	}
}

// SendTarget streams the target pose. A write failure on a stream transport
// means the link is gone, so it is reported as unrecoverable.
func (w *WS) SendTarget(_ context.Context, target pose.Pose) error {
	p := [6]float64(target)
	return w.write(wsCommand{Type: "target", Pose: &p}, "send target")
}

// ReadState returns the newest pushed state frame. Before the first frame
// arrives this is a retryable error; once the link is dead it is
// unrecoverable.
func (w *WS) ReadState(_ context.Context) (map[string][]float64, error) {
	select {
	case <-w.dead:
		return nil, &Error{Op: "read state", Unrecoverable: true, Err: w.deadErr}
	default:
	}

	w.stateMu.RLock()
	latest := w.latest
	w.stateMu.RUnlock()
	if latest == nil {
		return nil, &Error{Op: "read state", Err: fmt.Errorf("no state frame received yet")}
	}
	return latest, nil
}

// Decelerate streams a stop command.
func (w *WS) Decelerate(_ context.Context) error {
	return w.write(wsCommand{Type: "stop"}, "decelerate")
}

// Close closes the websocket.
func (w *WS) Close() error {
	w.closeOnce.Do(func() {
		w.deadErr = fmt.Errorf("transport closed")
		close(w.dead)
	})
	return w.conn.Close()
}

func (w *WS) write(cmd wsCommand, op string) error {
	select {
	case <-w.dead:
		return &Error{Op: op, Unrecoverable: true, Err: w.deadErr}
	default:
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteJSON(cmd); err != nil {
		return &Error{Op: op, Unrecoverable: true, Err: err}
	}
	return nil
}
