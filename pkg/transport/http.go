package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/teslashibe/go-armctl/internal/httpc"
	"github.com/teslashibe/go-armctl/pkg/pose"
)

// httpRequestTimeout bounds every daemon request. It must stay well below
// the control tick budget; a daemon slower than this is treated as a per-tick
// transport error.
const httpRequestTimeout = 500 * time.Millisecond

// HTTP talks to a robot daemon over its JSON HTTP API:
//
//	POST {base}/api/move/set_target  {"target_pose": [6]float64}
//	POST {base}/api/move/stop
//	GET  {base}/api/state            -> {"actual_pose": [...], ...}
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates an HTTP transport for the daemon at baseURL
// (e.g. "http://192.168.68.80:8000").
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		baseURL: baseURL,
		client:  httpc.NewClient(httpRequestTimeout),
	}
}

type setTargetRequest struct {
	TargetPose [6]float64 `json:"target_pose"`
}

// SendTarget posts the target pose to the daemon.
func (h *HTTP) SendTarget(ctx context.Context, target pose.Pose) error {
	body, err := json.Marshal(setTargetRequest{TargetPose: [6]float64(target)})
	if err != nil {
		return &Error{Op: "send target", Err: err}
	}
	if err := h.post(ctx, "/api/move/set_target", body); err != nil {
		return &Error{Op: "send target", Err: err}
	}
	return nil
}

// ReadState fetches the daemon's measured state channels.
func (h *HTTP) ReadState(ctx context.Context) (map[string][]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/state", nil)
	if err != nil {
		return nil, &Error{Op: "read state", Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "read state", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "read state", Err: fmt.Errorf("daemon returned %s", resp.Status)}
	}

	var channels map[string][]float64
	if err := json.NewDecoder(resp.Body).Decode(&channels); err != nil {
		return nil, &Error{Op: "read state", Err: fmt.Errorf("decode state: %w", err)}
	}
	if len(channels[ChannelActualPose]) < 6 {
		return nil, &Error{Op: "read state", Err: fmt.Errorf("daemon state missing %q", ChannelActualPose)}
	}
	return channels, nil
}

// Decelerate asks the daemon to stop motion.
func (h *HTTP) Decelerate(ctx context.Context) error {
	if err := h.post(ctx, "/api/move/stop", nil); err != nil {
		return &Error{Op: "decelerate", Err: err}
	}
	return nil
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTP) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}
