package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

// Redis key layout:
//   presence:{channel}        HASH<participant_id, occupant record json>
//   presence:{channel}:sync   PUB/SUB, published on every set change
func occupantsKey(topic string) string {
	return fmt.Sprintf("presence:%s", topic)
}

func syncTopic(topic string) string {
	return fmt.Sprintf("presence:%s:sync", topic)
}

// RedisDirectory is a directory client backed by a redis instance shared by
// both participants. A crashed client leaves its hash field behind; that is
// exactly the stale record the admission recovery pass re-validates.
type RedisDirectory struct {
	client *redis.Client
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

func NewRedisDirectory(cfg RedisConfig) (*RedisDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisDirectory{client: client}, nil
}

func (d *RedisDirectory) Channel(name string) core.PresenceChannel {
	return &redisChannel{
		client:   d.client,
		topic:    name,
		syncCh:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

func (d *RedisDirectory) Release(ch core.PresenceChannel) {
	if rc, ok := ch.(*redisChannel); ok {
		rc.close()
	}
}

func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

type redisChannel struct {
	client *redis.Client
	topic  string

	mu      sync.Mutex
	pubsub  *redis.PubSub
	selfKey string

	syncCh    chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
}

func (c *redisChannel) Subscribe(ctx context.Context) error {
	ps := c.client.Subscribe(ctx, syncTopic(c.topic))
	// Receive waits for the subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	c.mu.Lock()
	c.pubsub = ps
	c.mu.Unlock()

	go func() {
		for range ps.Channel() {
			select {
			case c.syncCh <- struct{}{}:
			default:
			}
		}
		c.close()
	}()

	log.Debug().Str("module", "presence.redis").Str("topic", c.topic).Msg("subscribed")
	return nil
}

func (c *redisChannel) Track(ctx context.Context, rec domain.OccupantRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, occupantsKey(c.topic), string(rec.ParticipantID), b)
	pipe.Publish(ctx, syncTopic(c.topic), "track")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track on %s: %w", c.topic, err)
	}
	c.mu.Lock()
	c.selfKey = string(rec.ParticipantID)
	c.mu.Unlock()
	return nil
}

func (c *redisChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	key := c.selfKey
	c.selfKey = ""
	c.mu.Unlock()
	if key == "" {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.HDel(ctx, occupantsKey(c.topic), key)
	pipe.Publish(ctx, syncTopic(c.topic), "untrack")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("untrack on %s: %w", c.topic, err)
	}
	return nil
}

func (c *redisChannel) Unsubscribe() error {
	c.close()
	return nil
}

func (c *redisChannel) PresenceState() map[string]domain.OccupantRecord {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fields, err := c.client.HGetAll(ctx, occupantsKey(c.topic)).Result()
	if err != nil {
		log.Warn().Err(err).Str("module", "presence.redis").Str("topic", c.topic).Msg("read presence state failed")
		return nil
	}
	out := make(map[string]domain.OccupantRecord, len(fields))
	for k, raw := range fields {
		var rec domain.OccupantRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Warn().Err(err).Str("module", "presence.redis").Str("key", k).Msg("bad occupant record")
			continue
		}
		out[k] = rec
	}
	return out
}

func (c *redisChannel) SyncEvents() <-chan struct{} { return c.syncCh }
func (c *redisChannel) Closed() <-chan struct{}     { return c.closedCh }

func (c *redisChannel) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.pubsub != nil {
			_ = c.pubsub.Close()
		}
		c.mu.Unlock()
		close(c.closedCh)
	})
}
