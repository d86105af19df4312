package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/steward/pkg/api"
)

// RedisLog is a Log backed by a Redis list:
//
//	<prefix>events  => LIST of JSON-encoded records, RPUSH'd in order
//
// A list rather than a sorted set keeps the log's append order identical
// to the order writers observed under the bus lock.
type RedisLog struct {
	client *redis.Client
	prefix string
}

var _ Log = (*RedisLog)(nil)

type redisLogRecord struct {
	At            int64          `json:"at"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// NewRedisLog creates a RedisLog. prefix is optional but recommended
// (e.g. "steward:").
func NewRedisLog(client *redis.Client, prefix string) *RedisLog {
	if prefix == "" {
		prefix = "steward:"
	}
	return &RedisLog{client: client, prefix: prefix}
}

func (l *RedisLog) key() string {
	return l.prefix + "events"
}

func (l *RedisLog) Append(ctx context.Context, ev api.Event) error {
	data, err := json.Marshal(redisLogRecord{
		At:            ev.Timestamp.UnixNano(),
		Type:          ev.Type,
		Payload:       ev.Payload,
		CorrelationID: ev.CorrelationID,
	})
	if err != nil {
		return err
	}
	return l.client.RPush(ctx, l.key(), data).Err()
}

func (l *RedisLog) List(ctx context.Context) ([]api.Event, error) {
	raw, err := l.client.LRange(ctx, l.key(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]api.Event, 0, len(raw))
	for _, item := range raw {
		var rec redisLogRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, err
		}
		out = append(out, api.Event{
			Type:          rec.Type,
			Payload:       rec.Payload,
			Timestamp:     time.Unix(0, rec.At),
			CorrelationID: rec.CorrelationID,
		})
	}
	return out, nil
}

func (l *RedisLog) Clear(ctx context.Context) error {
	return l.client.Del(ctx, l.key()).Err()
}
