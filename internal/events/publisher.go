package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventStreamName = "agenda:events"
)

// Publisher delivers drained outbox events to external consumers
type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
	Close() error
}

// RedisPublisher implements Publisher by pushing JSON-encoded events onto a
// Redis list. Consumers BLPOP from the other end.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a new Redis event publisher
func NewRedisPublisher(addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return &RedisPublisher{client: client}, nil
}

// Publish sends the events to the event list in order
func (r *RedisPublisher) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}

	values := make([]any, 0, len(evts))
	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	return r.client.RPush(ctx, EventStreamName, values...).Err()
}

// Close terminates the Redis connection
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
