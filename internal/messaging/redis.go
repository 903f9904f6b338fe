package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"indicator-service/internal/logger"
	"indicator-service/internal/surface"
	"indicator-service/internal/types"

	"github.com/redis/go-redis/v9"
)

// Redis keys
const (
	StateHash    = "indicator"
	StateChannel = "indicator"
	CommandList  = "indicator:command"
)

const (
	transport      = "redis"
	requestTimeout = 2 * time.Second
)

// Controller is the part of the surface adapter the Redis commands drive.
type Controller interface {
	ForceStop(ctx context.Context, transport string) (surface.Ack, error)
	ForceResume(ctx context.Context, transport string) (surface.Ack, error)
	CycleInterval(ctx context.Context, transport string) (surface.Ack, error)
}

// RedisClient mirrors the device state into Redis and accepts commands
// pushed onto a list.
type RedisClient struct {
	client  *redis.Client
	ctrl    Controller
	logger  *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	updates chan types.Snapshot

	// owned by the caller of Publish
	last    types.Snapshot
	hasLast bool
}

func NewRedisClient(addr string, l *logger.Logger, ctrl Controller) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   0,
		}),
		ctrl:    ctrl,
		logger:  l,
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan types.Snapshot, 1),
	}
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts the command listener and the state writer.
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	r.wg.Add(2)
	go r.listCommandListener(CommandList, r.handleCommand)
	go r.stateWriter()

	return nil
}

func (r *RedisClient) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}

// Publish hands a snapshot to the state writer when the mode, rotation or
// deadline changed. It never blocks; an unwritten older update is replaced.
func (r *RedisClient) Publish(s types.Snapshot) {
	if r.hasLast && r.last.Mode == s.Mode &&
		r.last.RotationIndex == s.RotationIndex && r.last.StopDeadline == s.StopDeadline {
		return
	}
	r.last = s
	r.hasLast = true

	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- s:
	default:
	}
}

func (r *RedisClient) stateWriter() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case s := <-r.updates:
			if err := r.publishSnapshot(s); err != nil {
				r.logger.Warnf("Failed to publish state: %v", err)
			}
		}
	}
}

// publishSnapshot atomically updates the state hash and publishes a
// notification, like every other hash writer in the system.
func (r *RedisClient) publishSnapshot(s types.Snapshot) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, StateHash, snapshotFields(s))
	if !s.Stopped() {
		pipe.HDel(r.ctx, StateHash, "stop-deadline")
	}
	pipe.Publish(r.ctx, StateChannel, "state")
	_, err := pipe.Exec(r.ctx)
	return err
}

// snapshotFields builds the hash fields for s. The stop deadline is
// published as a Unix timestamp so other services need no monotonic clock.
func snapshotFields(s types.Snapshot) map[string]interface{} {
	fields := map[string]interface{}{
		"mode":     string(s.Mode),
		"rotation": strconv.Itoa(s.RotationIndex),
		"pattern":  s.Pattern().Flags(),
	}
	if s.Stopped() {
		fields["stop-deadline"] = strconv.FormatInt(time.Now().Add(s.StopRemaining).Unix(), 10)
	}
	return fields
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if errors.Is(err, context.Canceled) {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Warnf("Error reading from %s list: %v", key, err)
				select {
				case <-r.ctx.Done():
				case <-time.After(time.Second):
				}
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleCommand(value string) error {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	var err error
	switch value {
	case "stop":
		_, err = r.ctrl.ForceStop(ctx, transport)
	case "resume":
		_, err = r.ctrl.ForceResume(ctx, transport)
	case "interval":
		_, err = r.ctrl.CycleInterval(ctx, transport)
	default:
		return fmt.Errorf("invalid indicator command: %s", value)
	}
	return err
}
