package persist

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	tradesQueueKey   = "sync_queue:trades"
	assetsQueueKey   = "sync_queue:assets"
	tradesProcessing = "sync_queue:trades:processing"
	assetsProcessing = "sync_queue:assets:processing"
)

// Queue is the reliable-delivery primitive the persister drains (§4.D): push
// appends a payload, DrainBatch atomically moves up to n payloads into a
// processing list so a crash mid-batch leaves them recoverable instead of
// lost, and Ack removes one payload from the processing list once its write
// has committed to the durable store.
type Queue interface {
	Push(ctx context.Context, payload []byte) error
	DrainBatch(ctx context.Context, n int) ([][]byte, error)
	Ack(ctx context.Context, payload []byte) error
	// Requeue puts back any payloads left in the processing list from a
	// prior crash, so they're retried instead of silently dropped.
	Requeue(ctx context.Context) error
}

// RedisQueue implements Queue over a Redis list pair, the cache-tier
// `sync_queue:*` lists named in §6.
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
}

func newRedisQueue(client *redis.Client, key, processing string) *RedisQueue {
	return &RedisQueue{client: client, key: key, processing: processing}
}

// NewTradesQueue returns the Queue backing sync_queue:trades.
func NewTradesQueue(client *redis.Client) *RedisQueue {
	return newRedisQueue(client, tradesQueueKey, tradesProcessing)
}

// NewAssetsQueue returns the Queue backing sync_queue:assets.
func NewAssetsQueue(client *redis.Client) *RedisQueue {
	return newRedisQueue(client, assetsQueueKey, assetsProcessing)
}

func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	return q.client.RPush(ctx, q.key, payload).Err()
}

// DrainBatch moves up to n items from the main list into the processing
// list with LMOVE, so an item is never visible in neither list at once.
func (q *RedisQueue) DrainBatch(ctx context.Context, n int) ([][]byte, error) {
	batch := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		val, err := q.client.LMove(ctx, q.key, q.processing, "LEFT", "RIGHT").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return batch, err
		}
		batch = append(batch, []byte(val))
	}
	return batch, nil
}

func (q *RedisQueue) Ack(ctx context.Context, payload []byte) error {
	return q.client.LRem(ctx, q.processing, 1, payload).Err()
}

// Requeue moves every item still sitting in the processing list (left over
// from a crash between DrainBatch and Ack) back onto the main queue.
func (q *RedisQueue) Requeue(ctx context.Context) error {
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "LEFT").Err()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
