package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/internal/events"
)

const publishTimeout = 2 * time.Second

// Publisher is the part of *redis.Client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes every record as JSON to a channel, so external consumers
// can follow all accounts without polling.
type Redis struct {
	client  Publisher
	channel string
	logger  *zap.Logger
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return client, nil
}

func NewRedis(client Publisher, channel string, logger *zap.Logger) *Redis {
	return &Redis{client: client, channel: channel, logger: logger}
}

func (s *Redis) Report(ctx context.Context, r events.Record) {
	payload, err := json.Marshal(r)
	if err != nil {
		s.logger.Error("failed to encode record", zap.String("record", string(r.Kind)), zap.Error(err))
		return
	}

	// records of a shutting down pipeline are still delivered
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Warn("failed to publish record",
			zap.String("channel", s.channel),
			zap.String("record", string(r.Kind)),
			zap.Error(err))
	}
}
