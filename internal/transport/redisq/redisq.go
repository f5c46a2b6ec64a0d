// Package redisq carries the worker channels over Redis lists.
//
// Every run owns a handful of keys under <prefix>:run:<run id>:
//
//	job        the JobSpec and the hub's epoch as JSON, read by workers when they join
//	register   list of "<epoch>|<worker id>", pushed once per joining worker
//	inbox      list the coordinator pops; frames carry their sender
//	worker:<id> one list per worker, popped only by that worker
//
// RPUSH + BLPOP keeps each list FIFO, which gives the per-pair ordering the
// protocol needs. Popping the single inbox is "receive from any worker".
//
// The epoch changes every time a hub publishes. A registration made against
// an older job is answered with a rejoin frame naming that epoch; the link
// that joined under it fails Receive with ErrRunRepublished, later links of
// the same worker skip the frame.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/pkg/logger"
	"yqhp/rowfarm/pkg/types"
)

const (
	// pollInterval is the BLPOP timeout between context checks.
	pollInterval = time.Second

	// keyTTL is applied to every run key when the hub closes.
	keyTTL = 10 * time.Minute
)

// frameRejoin tells a worker its registration belongs to an older job.
const frameRejoin = "rejoin"

var (
	// ErrJobNotFound is returned by Join when the run has not been published yet.
	ErrJobNotFound = errors.New("redisq: job not published")

	// ErrRunRepublished is returned by Link.Receive when the run id was
	// published again after the worker joined. Join again to take part.
	ErrRunRepublished = errors.New("redisq: run republished, join again")
)

// rejoinFrame is the payload of frameRejoin.
type rejoinFrame struct {
	Epoch string `json:"epoch"`
}

// published is the value stored under the job key.
type published struct {
	Epoch string         `json:"epoch"`
	Job   *types.JobSpec `json:"job"`
}

// Options selects the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a client and checks the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Keys builds the key names of one run.
type Keys struct {
	base string
}

// NewKeys returns the key set for runID under prefix.
func NewKeys(prefix, runID string) Keys {
	return Keys{base: fmt.Sprintf("%s:run:%s", prefix, runID)}
}

func (k Keys) Job() string             { return k.base + ":job" }
func (k Keys) Register() string        { return k.base + ":register" }
func (k Keys) Inbox() string           { return k.base + ":inbox" }
func (k Keys) Worker(id string) string { return k.base + ":worker:" + id }

// HubConfig configures a Hub.
type HubConfig struct {
	Prefix   string
	Job      *types.JobSpec
	Expected int
	Logger   *zap.Logger
}

// Hub is the coordinator end of the Redis transport.
type Hub struct {
	client redis.UniversalClient
	keys   Keys
	cfg    HubConfig
	epoch  string
	logger *zap.Logger

	mu      sync.RWMutex
	workers []string
	known   map[string]bool

	done chan struct{}
	once sync.Once
}

// NewHub publishes the job under a fresh epoch and clears the inbox of a
// previous run with the same id.
func NewHub(ctx context.Context, client redis.UniversalClient, cfg HubConfig) (*Hub, error) {
	if cfg.Job == nil || cfg.Job.RunID == "" {
		return nil, fmt.Errorf("redisq: job with a run id is required")
	}
	if cfg.Expected < 1 {
		return nil, fmt.Errorf("redisq: expected workers must be at least 1, got %d", cfg.Expected)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("redis-hub")
	}

	h := &Hub{
		client: client,
		keys:   NewKeys(cfg.Prefix, cfg.Job.RunID),
		cfg:    cfg,
		epoch:  uuid.NewString(),
		logger: cfg.Logger,
		known:  make(map[string]bool, cfg.Expected),
		done:   make(chan struct{}),
	}

	payload, err := sonic.Marshal(&published{Epoch: h.epoch, Job: cfg.Job})
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	// the register list is kept: registrations left over from an older
	// epoch are answered with a rejoin frame by WaitForWorkers
	pipe := client.TxPipeline()
	pipe.Del(ctx, h.keys.Inbox())
	pipe.Set(ctx, h.keys.Job(), payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("publish job: %w", err)
	}

	return h, nil
}

// WaitForWorkers pops registrations until the expected number of distinct workers joined.
func (h *Hub) WaitForWorkers(ctx context.Context) error {
	for {
		h.mu.RLock()
		n := len(h.workers)
		h.mu.RUnlock()
		if n >= h.cfg.Expected {
			return nil
		}

		raw, err := h.pop(ctx, h.keys.Register())
		if err != nil {
			return fmt.Errorf("waiting for %d workers (%d registered): %w", h.cfg.Expected, n, err)
		}
		if raw == "" {
			continue
		}

		epoch, id, ok := strings.Cut(raw, "|")
		if !ok || id == "" {
			h.logger.Warn("malformed registration ignored", zap.String("entry", raw))
			continue
		}
		if epoch != h.epoch {
			h.rejoin(ctx, id, epoch)
			continue
		}

		h.mu.Lock()
		if h.known[id] {
			h.mu.Unlock()
			h.logger.Warn("duplicate worker registration ignored", zap.String("worker", id))
			continue
		}
		h.known[id] = true
		h.workers = append(h.workers, id)
		n = len(h.workers)
		h.mu.Unlock()

		h.logger.Info("worker joined", zap.String("worker", id), zap.Int("registered", n))
	}
}

// rejoin answers a registration made against an older job.
func (h *Hub) rejoin(ctx context.Context, workerID, epoch string) {
	h.logger.Info("stale registration, asking worker to rejoin", zap.String("worker", workerID))

	frame, err := transport.EncodeControl(frameRejoin, &rejoinFrame{Epoch: epoch})
	if err != nil {
		h.logger.Warn("encode rejoin", zap.Error(err))
		return
	}
	pipe := h.client.Pipeline()
	pipe.RPush(ctx, h.keys.Worker(workerID), frame)
	pipe.Expire(ctx, h.keys.Worker(workerID), keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		h.logger.Warn("send rejoin", zap.String("worker", workerID), zap.Error(err))
	}
}

// Workers returns worker ids in join order.
func (h *Hub) Workers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.workers...)
}

// Send pushes msg onto the worker's list.
func (h *Hub) Send(ctx context.Context, workerID string, msg types.Message) error {
	h.mu.RLock()
	ok := h.known[workerID]
	h.mu.RUnlock()
	if !ok {
		return types.NewChannelError(workerID, "send", transport.ErrUnknownWorker)
	}
	if h.closed() {
		return types.NewChannelError(workerID, "send", transport.ErrClosed)
	}

	data, err := transport.Encode(msg)
	if err != nil {
		return types.NewChannelError(workerID, "send", err)
	}
	if err := h.client.RPush(ctx, h.keys.Worker(workerID), data).Err(); err != nil {
		return types.NewChannelError(workerID, "send", err)
	}
	return nil
}

// Receive pops the next frame from the inbox.
func (h *Hub) Receive(ctx context.Context) (transport.Inbound, error) {
	for {
		raw, err := h.pop(ctx, h.keys.Inbox())
		if err != nil {
			if ctx.Err() != nil {
				return transport.Inbound{}, ctx.Err()
			}
			return transport.Inbound{}, types.NewChannelError("", "receive", err)
		}
		if raw == "" {
			continue
		}

		from, msg, err := transport.DecodeFrom([]byte(raw))
		if err != nil {
			return transport.Inbound{}, &types.ProtocolError{WorkerID: from, Message: err.Error()}
		}

		h.mu.RLock()
		ok := h.known[from]
		h.mu.RUnlock()
		if !ok {
			return transport.Inbound{}, &types.ProtocolError{WorkerID: from, Message: "message from unregistered worker"}
		}
		return transport.Inbound{WorkerID: from, Message: msg}, nil
	}
}

// Close sets an expiry on the run keys. Frames already pushed stay readable
// until then, so workers still pick up their STOP.
func (h *Hub) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		keys := []string{h.keys.Job(), h.keys.Register(), h.keys.Inbox()}
		for _, id := range h.Workers() {
			keys = append(keys, h.keys.Worker(id))
		}

		pipe := h.client.Pipeline()
		for _, k := range keys {
			pipe.Expire(ctx, k, keyTTL)
		}
		_, err = pipe.Exec(ctx)
	})
	return err
}

func (h *Hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// pop waits up to pollInterval for one element of key. An empty string
// without error means the wait timed out.
func (h *Hub) pop(ctx context.Context, key string) (string, error) {
	if h.closed() {
		return "", transport.ErrClosed
	}
	return blpop(ctx, h.client, key)
}

func blpop(ctx context.Context, client redis.UniversalClient, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := client.BLPop(ctx, pollInterval, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BLPOP answers [key, value]
	return res[1], nil
}

// Link is the worker end of the Redis transport.
type Link struct {
	client redis.UniversalClient
	keys   Keys
	id     string
	epoch  string

	done chan struct{}
	once sync.Once
}

// Join reads the published job and registers workerID with the coordinator.
func Join(ctx context.Context, client redis.UniversalClient, prefix, runID, workerID string) (*Link, *types.JobSpec, error) {
	if runID == "" || workerID == "" {
		return nil, nil, fmt.Errorf("redisq: run id and worker id are required")
	}
	keys := NewKeys(prefix, runID)

	raw, err := client.Get(ctx, keys.Job()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("%w: run %s", ErrJobNotFound, runID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read job: %w", err)
	}

	var pub published
	if err := sonic.Unmarshal(raw, &pub); err != nil {
		return nil, nil, fmt.Errorf("decode job: %w", err)
	}
	if pub.Job == nil || pub.Epoch == "" {
		return nil, nil, fmt.Errorf("decode job: run %s has no job or epoch", runID)
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, keys.Worker(workerID))
	pipe.RPush(ctx, keys.Register(), pub.Epoch+"|"+workerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("register worker: %w", err)
	}

	return &Link{
		client: client,
		keys:   keys,
		id:     workerID,
		epoch:  pub.Epoch,
		done:   make(chan struct{}),
	}, pub.Job, nil
}

// ID returns the worker id.
func (l *Link) ID() string {
	return l.id
}

// Send pushes msg onto the coordinator inbox.
func (l *Link) Send(ctx context.Context, msg types.Message) error {
	select {
	case <-l.done:
		return types.NewChannelError(l.id, "send", transport.ErrClosed)
	default:
	}

	data, err := transport.EncodeFrom(l.id, msg)
	if err != nil {
		return types.NewChannelError(l.id, "send", err)
	}
	if err := l.client.RPush(ctx, l.keys.Inbox(), data).Err(); err != nil {
		return types.NewChannelError(l.id, "send", err)
	}
	return nil
}

// Receive pops the next frame from this worker's list.
func (l *Link) Receive(ctx context.Context) (types.Message, error) {
	for {
		select {
		case <-l.done:
			return nil, types.NewChannelError(l.id, "receive", transport.ErrClosed)
		default:
		}

		raw, err := blpop(ctx, l.client, l.keys.Worker(l.id))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, types.NewChannelError(l.id, "receive", err)
		}
		if raw == "" {
			continue
		}

		env, err := transport.DecodeEnvelope([]byte(raw))
		if err != nil {
			return nil, &types.ProtocolError{WorkerID: l.id, Message: err.Error()}
		}
		if env.Type == frameRejoin {
			var f rejoinFrame
			if err := env.Decode(&f); err != nil {
				return nil, &types.ProtocolError{WorkerID: l.id, Message: err.Error()}
			}
			if f.Epoch == l.epoch {
				return nil, ErrRunRepublished
			}
			continue
		}
		msg, err := env.Message()
		if err != nil {
			return nil, &types.ProtocolError{WorkerID: l.id, Message: err.Error()}
		}
		return msg, nil
	}
}

// Close marks the link closed. The client belongs to the caller.
func (l *Link) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

var (
	_ transport.Hub  = (*Hub)(nil)
	_ transport.Link = (*Link)(nil)
)
