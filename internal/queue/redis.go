package queue

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// RedisSender pushes messages onto a redis list. Consumers pop from the
// opposite end, so the list is FIFO.
type RedisSender struct {
	rdb   goredis.UniversalClient
	queue string
}

func NewRedisSender(rdb goredis.UniversalClient, queue string) *RedisSender {
	if strings.TrimSpace(queue) == "" {
		queue = DefaultQueueName
	}
	return &RedisSender{rdb: rdb, queue: queue}
}

func (s *RedisSender) Name() string { return s.queue }

func (s *RedisSender) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	raw, err := Encode(m)
	if err != nil {
		return err
	}
	if err := s.rdb.LPush(ctx, s.queue, raw).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", s.queue, err)
	}
	return nil
}

// DeadLetterList is where messages go after their last failed delivery.
func DeadLetterList(queue string) string { return queue + ":dead" }

func processingList(queue, consumer string, worker int) string {
	return fmt.Sprintf("%s:processing:%s:%d", queue, consumer, worker)
}

// RedisBacklog counts messages waiting on the queue plus those held in any
// consumer's processing list.
type RedisBacklog struct {
	rdb   goredis.UniversalClient
	queue string
}

func NewRedisBacklog(rdb goredis.UniversalClient, queue string) *RedisBacklog {
	if strings.TrimSpace(queue) == "" {
		queue = DefaultQueueName
	}
	return &RedisBacklog{rdb: rdb, queue: queue}
}

func (b *RedisBacklog) Pending(ctx context.Context) (int64, error) {
	total, err := b.rdb.LLen(ctx, b.queue).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", b.queue, err)
	}
	iter := b.rdb.Scan(ctx, 0, b.queue+":processing:*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := b.rdb.LLen(ctx, iter.Val()).Result()
		if err != nil {
			return 0, fmt.Errorf("redis llen %s: %w", iter.Val(), err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan processing lists: %w", err)
	}
	return total, nil
}
