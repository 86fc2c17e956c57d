package fanout

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/VinMeld/go-dm/internal/codec"
)

// DefaultRelayChannel is the pub/sub channel shared by all instances.
const DefaultRelayChannel = "dm:events"

type relayEnvelope struct {
	To    []string `cbor:"1,keyasint"`
	Frame []byte   `cbor:"2,keyasint"`
}

// RedisRelay publishes events to Redis so that every instance, including
// this one, delivers them to its own Hub.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	local   *Hub
	logger  *slog.Logger
	ready   chan struct{}
}

func NewRedisRelay(rdb *redis.Client, local *Hub, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		rdb:     rdb,
		channel: DefaultRelayChannel,
		local:   local,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, events ...Event) error {
	for _, e := range events {
		if len(e.To) == 0 {
			continue
		}
		frame, err := e.Frame()
		if err != nil {
			return err
		}
		payload, err := codec.Marshal(relayEnvelope{To: e.To, Frame: frame})
		if err != nil {
			return err
		}
		if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ready is closed once the subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the relay channel and feeds the local hub until ctx is
// done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	close(r.ready)
	r.logger.Info("fanout relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := codec.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping undecodable relay payload", "error", err)
				continue
			}
			if err := r.local.deliver(ctx, env.To, env.Frame); err != nil {
				return nil
			}
		}
	}
}
