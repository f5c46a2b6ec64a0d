package transport

import (
	"context"
	"fmt"
	"sync"

	"yqhp/rowfarm/pkg/types"
)

// linkBuffer bounds the coordinator->worker queue. The protocol never has
// more than two messages in flight to one worker (NO_WORK then STOP).
const linkBuffer = 4

// LocalHub connects the coordinator to in-process workers over Go channels.
type LocalHub struct {
	ids     []string
	links   map[string]*LocalLink
	inbound chan Inbound
	done    chan struct{}
	once    sync.Once
}

// LocalLink is the worker end of a LocalHub channel.
type LocalLink struct {
	id   string
	hub  *LocalHub
	in   chan types.Message
	done chan struct{}
	once sync.Once
}

// NewLocalHub creates a hub with one link per id.
func NewLocalHub(ids []string) (*LocalHub, []*LocalLink, error) {
	h := &LocalHub{
		ids:     append([]string(nil), ids...),
		links:   make(map[string]*LocalLink, len(ids)),
		inbound: make(chan Inbound, len(ids)),
		done:    make(chan struct{}),
	}

	links := make([]*LocalLink, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, nil, fmt.Errorf("transport: empty worker id")
		}
		if _, ok := h.links[id]; ok {
			return nil, nil, fmt.Errorf("transport: duplicate worker id %q", id)
		}
		l := &LocalLink{
			id:   id,
			hub:  h,
			in:   make(chan types.Message, linkBuffer),
			done: make(chan struct{}),
		}
		h.links[id] = l
		links = append(links, l)
	}
	return h, links, nil
}

// Workers returns the worker ids in creation order.
func (h *LocalHub) Workers() []string {
	return append([]string(nil), h.ids...)
}

// Send queues msg for one worker, blocking while its queue is full.
func (h *LocalHub) Send(ctx context.Context, workerID string, msg types.Message) error {
	l, ok := h.links[workerID]
	if !ok {
		return types.NewChannelError(workerID, "send", ErrUnknownWorker)
	}

	select {
	case <-h.done:
		return types.NewChannelError(workerID, "send", ErrClosed)
	case <-l.done:
		return types.NewChannelError(workerID, "send", ErrClosed)
	default:
	}

	select {
	case l.in <- msg:
		return nil
	case <-l.done:
		return types.NewChannelError(workerID, "send", ErrClosed)
	case <-h.done:
		return types.NewChannelError(workerID, "send", ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next message from any worker.
func (h *LocalHub) Receive(ctx context.Context) (Inbound, error) {
	select {
	case in := <-h.inbound:
		return in, nil
	case <-h.done:
		return Inbound{}, types.NewChannelError("", "receive", ErrClosed)
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

// Close stops the hub. Messages already queued to a link stay readable.
func (h *LocalHub) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

// ID returns the worker id.
func (l *LocalLink) ID() string {
	return l.id
}

// Send delivers msg to the coordinator.
func (l *LocalLink) Send(ctx context.Context, msg types.Message) error {
	select {
	case <-l.done:
		return types.NewChannelError(l.id, "send", ErrClosed)
	default:
	}

	select {
	case l.hub.inbound <- Inbound{WorkerID: l.id, Message: msg}:
		return nil
	case <-l.done:
		return types.NewChannelError(l.id, "send", ErrClosed)
	case <-l.hub.done:
		return types.NewChannelError(l.id, "send", ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next message from the coordinator.
func (l *LocalLink) Receive(ctx context.Context) (types.Message, error) {
	// queued messages win over a closed hub
	select {
	case msg := <-l.in:
		return msg, nil
	default:
	}

	select {
	case msg := <-l.in:
		return msg, nil
	case <-l.done:
		return nil, types.NewChannelError(l.id, "receive", ErrClosed)
	case <-l.hub.done:
		select {
		case msg := <-l.in:
			return msg, nil
		default:
		}
		return nil, types.NewChannelError(l.id, "receive", ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the link.
func (l *LocalLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

var (
	_ Hub  = (*LocalHub)(nil)
	_ Link = (*LocalLink)(nil)
)
