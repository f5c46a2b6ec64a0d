// Package transport provides the point-to-point channels between the
// coordinator and its workers.
//
// A Hub is the coordinator end: it knows every worker by id, sends to one
// worker at a time and receives from whichever worker speaks next. A Link is
// the worker end of exactly one of those channels. Messages on a single
// directed pair are delivered in send order; nothing is promised across
// different workers.
package transport

import (
	"context"
	"errors"

	"yqhp/rowfarm/pkg/types"
)

var (
	// ErrClosed is returned by operations on a closed hub or link.
	ErrClosed = errors.New("transport: closed")

	// ErrUnknownWorker is returned when sending to an id the hub does not know.
	ErrUnknownWorker = errors.New("transport: unknown worker")
)

// Inbound is a message received by the hub together with its sender.
type Inbound struct {
	WorkerID string
	Message  types.Message
}

// Hub is the coordinator side of the worker channels.
type Hub interface {
	// Workers returns the ids of every connected worker in a stable order.
	Workers() []string

	// Send delivers msg to one worker.
	Send(ctx context.Context, workerID string, msg types.Message) error

	// Receive blocks until any worker sends a message.
	Receive(ctx context.Context) (Inbound, error)

	// Close releases the hub. Messages already sent are still delivered.
	Close() error
}

// Link is the worker side of one channel.
type Link interface {
	ID() string
	Send(ctx context.Context, msg types.Message) error
	Receive(ctx context.Context) (types.Message, error)
	Close() error
}
