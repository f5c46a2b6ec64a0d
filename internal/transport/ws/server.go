package ws

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/pkg/logger"
	"yqhp/rowfarm/pkg/types"
)

// StatusFunc reports run progress for the status endpoint.
type StatusFunc func() any

// HubConfig configures a Hub.
type HubConfig struct {
	// Expected is the number of workers the run waits for.
	Expected int

	// Job is handed to every worker in its register ack.
	Job *types.JobSpec

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int

	// DrainTimeout bounds how long Close waits for workers to hang up.
	DrainTimeout time.Duration

	Logger *zap.Logger
}

// event is what a connection hands to Receive.
type event struct {
	in  transport.Inbound
	err error
}

// Hub is the coordinator end of the WebSocket transport.
type Hub struct {
	cfg    HubConfig
	app    *fiber.App
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*workerConn
	order []string

	events chan event
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once

	status atomic.Value // StatusFunc
}

// workerConn wraps a single registered worker connection.
type workerConn struct {
	id       string
	conn     *fiberws.Conn
	send     chan []byte
	hub      *Hub
	stopped  atomic.Bool
	closed   chan struct{}
	finished chan struct{}
	once     sync.Once
}

// NewHub creates a hub and its fiber app.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Expected < 1 {
		return nil, fmt.Errorf("ws: expected workers must be at least 1, got %d", cfg.Expected)
	}
	if cfg.Job == nil {
		return nil, fmt.Errorf("ws: job is required")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("ws-hub")
	}

	h := &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		conns:  make(map[string]*workerConn, cfg.Expected),
		events: make(chan event, cfg.Expected*2),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	h.app = fiber.New(fiber.Config{
		AppName:               "rowfarm coordinator",
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})
	h.setupRoutes()

	return h, nil
}

func (h *Hub) setupRoutes() {
	h.app.Use(fiberrecover.New())

	h.app.Get("/healthz", h.handleHealth)
	h.app.Get("/api/v1/status", h.handleStatus)

	h.app.Use(WorkerPath, func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	h.app.Get(WorkerPath, fiberws.New(h.handleConnection))
}

// App returns the underlying fiber app.
func (h *Hub) App() *fiber.App {
	return h.app
}

// SetStatusSource installs the progress reporter behind /api/v1/status.
func (h *Hub) SetStatusSource(fn StatusFunc) {
	h.status.Store(fn)
}

// Serve accepts connections on ln until Close.
func (h *Hub) Serve(ln net.Listener) error {
	return h.app.Listener(ln)
}

// ListenAndServe listens on addr and serves until Close.
func (h *Hub) ListenAndServe(addr string) error {
	return h.app.Listen(addr)
}

// WaitForWorkers blocks until the expected number of workers registered.
func (h *Hub) WaitForWorkers(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-h.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d workers (%d registered): %w", h.cfg.Expected, h.Registered(), ctx.Err())
	}
}

// Registered returns the number of registered workers.
func (h *Hub) Registered() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

// Workers returns worker ids in registration order.
func (h *Hub) Workers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.order...)
}

// Send queues msg for one worker, blocking while its queue is full.
func (h *Hub) Send(ctx context.Context, workerID string, msg types.Message) error {
	h.mu.RLock()
	c, ok := h.conns[workerID]
	h.mu.RUnlock()
	if !ok {
		return types.NewChannelError(workerID, "send", transport.ErrUnknownWorker)
	}

	data, err := transport.Encode(msg)
	if err != nil {
		return types.NewChannelError(workerID, "send", err)
	}

	if _, isStop := msg.(*types.Stop); isStop {
		c.stopped.Store(true)
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return types.NewChannelError(workerID, "send", transport.ErrClosed)
	case <-h.done:
		return types.NewChannelError(workerID, "send", transport.ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next message from any worker. A worker that hangs up
// before it was stopped surfaces as a ChannelError.
func (h *Hub) Receive(ctx context.Context) (transport.Inbound, error) {
	select {
	case ev := <-h.events:
		return ev.in, ev.err
	case <-h.done:
		return transport.Inbound{}, types.NewChannelError("", "receive", transport.ErrClosed)
	case <-ctx.Done():
		return transport.Inbound{}, ctx.Err()
	}
}

// Close flushes pending frames, waits for workers to hang up and shuts the server down.
func (h *Hub) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)

		h.mu.RLock()
		conns := make([]*workerConn, 0, len(h.conns))
		for _, c := range h.conns {
			conns = append(conns, c)
		}
		h.mu.RUnlock()

		deadline := time.After(h.cfg.DrainTimeout)
		for _, c := range conns {
			select {
			case <-c.finished:
			case <-deadline:
				c.close()
			}
		}
		for _, c := range conns {
			c.close()
		}

		err = h.app.ShutdownWithTimeout(h.cfg.DrainTimeout)
	})
	return err
}

func (h *Hub) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"registered": h.Registered(),
		"expected":   h.cfg.Expected,
		"run_id":     h.cfg.Job.RunID,
	})
}

func (h *Hub) handleStatus(c *fiber.Ctx) error {
	fn, _ := h.status.Load().(StatusFunc)
	if fn == nil {
		return c.JSON(fiber.Map{
			"run_id":     h.cfg.Job.RunID,
			"registered": h.Registered(),
			"expected":   h.cfg.Expected,
		})
	}
	return c.JSON(fn())
}

// handleConnection handles a newly established worker connection.
func (h *Hub) handleConnection(c *fiberws.Conn) {
	// The first frame must be a register frame.
	_, raw, err := c.ReadMessage()
	if err != nil {
		h.logger.Warn("read register frame failed", zap.Error(err))
		return
	}
	env, err := transport.DecodeEnvelope(raw)
	if err != nil || env.Type != FrameRegister {
		h.logger.Warn("expected register frame", zap.Error(err))
		return
	}
	var req RegisterRequest
	if len(env.Data) > 0 {
		if err := env.Decode(&req); err != nil {
			h.logger.Warn("parse register frame failed", zap.Error(err))
			return
		}
	}
	if req.WorkerID == "" {
		req.WorkerID = "worker-" + uuid.NewString()[:8]
	}

	wc := &workerConn{
		id:       req.WorkerID,
		conn:     c,
		send:     make(chan []byte, h.cfg.SendBuffer),
		hub:      h,
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
	}

	if err := h.register(wc); err != nil {
		h.logger.Warn("worker rejected", zap.String("worker", req.WorkerID), zap.Error(err))
		ack, _ := transport.EncodeControl(FrameRegisterAck, &RegisterAck{Accepted: false, Error: err.Error()})
		_ = c.WriteMessage(fiberws.TextMessage, ack)
		return
	}
	defer close(wc.finished)

	ack, err := transport.EncodeControl(FrameRegisterAck, &RegisterAck{
		Accepted: true,
		WorkerID: wc.id,
		Job:      h.cfg.Job,
	})
	if err == nil {
		err = c.WriteMessage(fiberws.TextMessage, ack)
	}
	if err != nil {
		h.logger.Error("send register ack failed", zap.String("worker", wc.id), zap.Error(err))
		h.lost(wc, err)
		return
	}

	h.logger.Info("worker connected", zap.String("worker", wc.id), zap.Int("registered", h.Registered()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		wc.writePump()
	}()

	// readPump blocks until the connection closes.
	wc.readPump()
	wc.close()
	<-writerDone

	h.logger.Info("worker disconnected", zap.String("worker", wc.id))
}

func (h *Hub) register(wc *workerConn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return transport.ErrClosed
	default:
	}
	if _, ok := h.conns[wc.id]; ok {
		return fmt.Errorf("worker id %q already registered", wc.id)
	}
	if len(h.order) >= h.cfg.Expected {
		return fmt.Errorf("run already has %d workers", h.cfg.Expected)
	}

	h.conns[wc.id] = wc
	h.order = append(h.order, wc.id)
	if len(h.order) == h.cfg.Expected {
		close(h.ready)
	}
	return nil
}

// lost reports a connection that ended before its worker was stopped.
func (h *Hub) lost(wc *workerConn, cause error) {
	if wc.stopped.Load() {
		return
	}
	select {
	case <-h.done:
		return
	default:
	}
	h.push(event{err: types.NewChannelError(wc.id, "receive", cause)})
}

func (h *Hub) push(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (c *workerConn) readPump() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.lost(c, err)
			return
		}

		msg, err := transport.Decode(raw)
		if err != nil {
			c.hub.push(event{err: &types.ProtocolError{WorkerID: c.id, Message: err.Error()}})
			continue
		}
		c.hub.push(event{in: transport.Inbound{WorkerID: c.id, Message: msg}})
	}
}

func (c *workerConn) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(fiberws.TextMessage, data); err != nil {
				return
			}
		case <-c.hub.done:
			c.flush()
			return
		case <-c.closed:
			return
		}
	}
}

// flush writes whatever is still queued without blocking.
func (c *workerConn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(fiberws.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *workerConn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

var _ transport.Hub = (*Hub)(nil)
