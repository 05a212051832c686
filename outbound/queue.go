package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/rustyeddy/gwbridge/model"
)

// Queue is the pluggable persistence contract for the Outbound
// Publisher (spec §6.3). Push must always succeed from the caller's
// point of view (non-blocking, bounded only by the backend's own
// capacity); Pop/Front/Empty give the publisher worker a view of the
// front of the FIFO without removing it until the publish actually
// succeeds.
type Queue interface {
	Push(msg *model.Message) error
	Pop() (*model.Message, error)
	Front() (*model.Message, error)
	Empty() (bool, error)
}

// MemoryQueue is the default persistence: an unbounded in-memory FIFO.
// It is the "default persistence is unbounded in-memory FIFO" referred
// to by spec §4.3.
type MemoryQueue struct {
	mu    sync.Mutex
	items []*model.Message
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(msg *model.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	return nil
}

func (q *MemoryQueue) Pop() (*model.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, nil
}

func (q *MemoryQueue) Front() (*model.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	return q.items[0], nil
}

func (q *MemoryQueue) Empty() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0, nil
}

// RedisQueue backs the Outbound Publisher's FIFO with a Redis list, so
// queued-but-unpublished messages survive a process restart (not just a
// temporary disconnect). Grounded on redis/go-redis/v9 from the
// jordigilh/kubernaut example; exercised in tests against
// alicebob/miniredis.
type RedisQueue struct {
	rdb context.Context
	cli *redis.Client
	key string
}

func NewRedisQueue(cli *redis.Client, key string) *RedisQueue {
	return &RedisQueue{cli: cli, key: key, rdb: context.Background()}
}

func (q *RedisQueue) Push(msg *model.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outbound: marshal message: %w", err)
	}
	return q.cli.RPush(q.rdb, q.key, b).Err()
}

func (q *RedisQueue) Front() (*model.Message, error) {
	vals, err := q.cli.LRange(q.rdb, q.key, 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return decodeMessage(vals[0])
}

func (q *RedisQueue) Pop() (*model.Message, error) {
	val, err := q.cli.LPop(q.rdb, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeMessage(val)
}

func (q *RedisQueue) Empty() (bool, error) {
	n, err := q.cli.LLen(q.rdb, q.key).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func decodeMessage(val string) (*model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal([]byte(val), &msg); err != nil {
		return nil, fmt.Errorf("outbound: unmarshal message: %w", err)
	}
	return &msg, nil
}
