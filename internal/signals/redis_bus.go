package signals

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

// RedisBus fans events out to other processes over a Redis pub/sub channel.
type RedisBus struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	channel string
}

func NewRedisBus(rdb goredis.UniversalClient, channel string, log *logger.Logger) (*RedisBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if channel == "" {
		channel = "coursestore.signals"
	}
	return &RedisBus{log: log.With("service", "RedisSignalBus"), rdb: rdb, channel: channel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder delivers events published by other processes to onEvent. Events
// carrying skipOrigin are ignored.
func (b *RedisBus) StartForwarder(ctx context.Context, skipOrigin string, onEvent func(ctx context.Context, e Event)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					b.log.Warn("bad redis signal payload", "error", err)
					continue
				}
				if skipOrigin != "" && e.Origin == skipOrigin {
					continue
				}
				onEvent(ctx, e)
			}
		}
	}()
	return nil
}
