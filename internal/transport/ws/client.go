package ws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/pkg/types"
)

// DialConfig configures Dial.
type DialConfig struct {
	// URL of the coordinator, ws:// or http:// (converted).
	URL string

	// WorkerID is optional; the coordinator assigns one when empty.
	WorkerID string

	HandshakeTimeout time.Duration
	Version          string
}

// Link is the worker end of a WebSocket channel.
type Link struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	in      chan types.Message
	errCh   chan error
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the coordinator and registers. It returns the link and
// the job description carried by the register ack.
func Dial(ctx context.Context, cfg DialConfig) (*Link, *types.JobSpec, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, toWebSocketURL(cfg.URL)+WorkerPath, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	reg, err := transport.EncodeControl(FrameRegister, &RegisterRequest{WorkerID: cfg.WorkerID, Version: cfg.Version})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, reg)
	}
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("send register frame failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read register ack failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	env, err := transport.DecodeEnvelope(raw)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if env.Type != FrameRegisterAck {
		conn.Close()
		return nil, nil, fmt.Errorf("unexpected ack type: %s", env.Type)
	}
	var ack RegisterAck
	if err := env.Decode(&ack); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("parse register ack failed: %w", err)
	}
	if !ack.Accepted {
		conn.Close()
		return nil, nil, fmt.Errorf("registration rejected: %s", ack.Error)
	}
	if ack.Job == nil {
		conn.Close()
		return nil, nil, fmt.Errorf("register ack carries no job")
	}

	l := &Link{
		id:    ack.WorkerID,
		conn:  conn,
		in:    make(chan types.Message, 16),
		errCh: make(chan error, 1),
		done:  make(chan struct{}),
	}
	go l.readPump()

	return l, ack.Job, nil
}

// ID returns the id the coordinator registered this worker under.
func (l *Link) ID() string {
	return l.id
}

// Send writes msg to the coordinator.
func (l *Link) Send(ctx context.Context, msg types.Message) error {
	select {
	case <-l.done:
		return types.NewChannelError(l.id, "send", transport.ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := transport.Encode(msg)
	if err != nil {
		return types.NewChannelError(l.id, "send", err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = l.conn.SetWriteDeadline(deadline)
		defer l.conn.SetWriteDeadline(time.Time{})
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return types.NewChannelError(l.id, "send", err)
	}
	return nil
}

// Receive returns the next message from the coordinator.
func (l *Link) Receive(ctx context.Context) (types.Message, error) {
	select {
	case msg := <-l.in:
		return msg, nil
	default:
	}

	select {
	case msg := <-l.in:
		return msg, nil
	case err := <-l.errCh:
		// frames read before the failure are still delivered
		select {
		case msg := <-l.in:
			l.errCh <- err
			return msg, nil
		default:
		}
		l.errCh <- err
		return nil, err
	case <-l.done:
		return nil, types.NewChannelError(l.id, "receive", transport.ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close frame and releases the connection.
func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

func (l *Link) readPump() {
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			l.errCh <- types.NewChannelError(l.id, "receive", err)
			return
		}

		msg, err := transport.Decode(raw)
		if err != nil {
			l.errCh <- &types.ProtocolError{WorkerID: l.id, Message: err.Error()}
			return
		}

		select {
		case l.in <- msg:
		case <-l.done:
			return
		}
	}
}

// toWebSocketURL converts http(s) URLs to ws(s) and trims trailing slashes.
func toWebSocketURL(raw string) string {
	u := strings.TrimRight(raw, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
		return u
	default:
		return "ws://" + u
	}
}

var _ transport.Link = (*Link)(nil)
