package ws

import "yqhp/rowfarm/pkg/types"

// Frame types exchanged before the protocol starts.
const (
	FrameRegister    = "register"
	FrameRegisterAck = "register_ack"
)

// WorkerPath is the WebSocket endpoint workers dial.
const WorkerPath = "/api/v1/worker-ws"

// RegisterRequest is the first frame a worker sends.
type RegisterRequest struct {
	WorkerID string `json:"worker_id,omitempty"`
	Version  string `json:"version,omitempty"`
}

// RegisterAck answers a RegisterRequest.
type RegisterAck struct {
	Accepted bool           `json:"accepted"`
	WorkerID string         `json:"worker_id,omitempty"`
	Job      *types.JobSpec `json:"job,omitempty"`
	Error    string         `json:"error,omitempty"`
}
