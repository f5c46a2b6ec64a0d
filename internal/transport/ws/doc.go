// Package ws carries the worker channels over WebSocket connections.
//
// The coordinator serves a fiber app exposing /api/v1/worker-ws for workers
// plus /api/v1/status and /healthz for operators. Each worker dials with
// gorilla/websocket, sends a register frame and receives the job description
// in the acknowledgement before any protocol message flows.
package ws
