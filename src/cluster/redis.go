package cluster

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const eventsChannel = "events"

// RedisConfig holds connection settings for the Redis relay.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // channel prefix
}

// envelope tags an event with the instance that published it.
type envelope struct {
	InstanceID string                 `json:"instance_id"`
	Event      types.ReplicationEvent `json:"event"`
}

// RedisRelay relays replication events over Redis pub/sub.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	target     EventTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisRelay creates a relay delivering remote events to target.
func NewRedisRelay(cfg *RedisConfig, target EventTarget, logger zerolog.Logger) *RedisRelay {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisRelay{
		client:     client,
		channel:    cfg.Prefix + eventsChannel,
		instanceID: uuid.New().String(),
		target:     target,
		logger:     logger.With().Str("component", "cluster-relay").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this server instance on the channel.
func (r *RedisRelay) InstanceID() string { return r.instanceID }

// Start implements Relay.
func (r *RedisRelay) Start() error {
	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return err
	}

	sub := r.client.Subscribe(r.ctx, r.channel)
	if _, err := sub.Receive(r.ctx); err != nil {
		_ = sub.Close()
		return err
	}

	r.mu.Lock()
	r.active = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.listen(sub)

	r.logger.Info().
		Str("instance_id", r.instanceID).
		Str("channel", r.channel).
		Msg("cluster relay started")
	return nil
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ev types.ReplicationEvent) error {
	data, err := json.Marshal(envelope{InstanceID: r.instanceID, Event: ev})
	if err != nil {
		return err
	}
	return r.client.Publish(r.ctx, r.channel, data).Err()
}

// Stop implements Relay.
func (r *RedisRelay) Stop() error {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}

// Available implements Relay.
func (r *RedisRelay) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *RedisRelay) listen(sub *redis.PubSub) {
	defer r.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handlePayload(msg.Payload)
		case <-r.ctx.Done():
			return
		}
	}
}

// handlePayload decodes an envelope and forwards events from other instances.
func (r *RedisRelay) handlePayload(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode relay message")
		return
	}
	if env.InstanceID == r.instanceID {
		return
	}

	r.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("kind", env.Event.Kind).
		Msg("remote replication event")
	r.target.HandleRemote(env.InstanceID, env.Event)
}
