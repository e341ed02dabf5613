package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGateway implements Gateway against a Redis (or Redis-protocol
// compatible) server, using a sorted set for the queue, plain string keys
// for content and dispatch locks, and pub/sub for freshness notifications.
type RedisGateway struct {
	client *redis.Client
	sub    *redis.Client
}

// NewRedisGateway wraps an already-configured *redis.Client. A second client
// with the same options is opened lazily on first Subscribe, since a
// connection actively running SUBSCRIBE cannot issue other commands.
func NewRedisGateway(client *redis.Client) *RedisGateway {
	return &RedisGateway{client: client}
}

func (g *RedisGateway) RangeMin(ctx context.Context, n int64) ([]Entry, error) {
	res, err := g.client.ZRangeWithScores(ctx, QueueKey, 0, n-1).Result()
	if err != nil {
		return nil, &OpError{Op: "RangeMin", Err: err}
	}
	return toEntries(res), nil
}

func (g *RedisGateway) RangeLowHigh(ctx context.Context, lowMs, highMs, n int64, ascending bool) ([]Entry, error) {
	var res []redis.Z
	var err error
	if ascending {
		res, err = g.client.ZRangeByScoreWithScores(ctx, QueueKey, &redis.ZRangeBy{
			Min:   scoreString(lowMs),
			Max:   scoreString(highMs),
			Count: n,
		}).Result()
	} else {
		res, err = g.client.ZRevRangeByScoreWithScores(ctx, QueueKey, &redis.ZRangeBy{
			Min:   scoreString(lowMs),
			Max:   scoreString(highMs),
			Count: n,
		}).Result()
	}
	if err != nil {
		return nil, &OpError{Op: "RangeLowHigh", Err: err}
	}
	return toEntries(res), nil
}

func (g *RedisGateway) WriteMessage(ctx context.Context, id string, dueTimeMs int64, text string, publishMin bool) (bool, error) {
	var zaddCmd *redis.IntCmd
	cmds, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, contentKey(id), text, 0)
		zaddCmd = pipe.ZAddNX(ctx, QueueKey, redis.Z{Score: float64(dueTimeMs), Member: id})
		if publishMin {
			pipe.Publish(ctx, Channel, EncodeNDT(dueTimeMs))
		}
		return nil
	})
	if err != nil {
		if len(cmds) == 0 {
			// EXEC never ran: nothing was written, so there is nothing to
			// roll back.
			return false, &TransactionError{Err: err}
		}
		return false, &OpError{Op: "WriteMessage", Err: err}
	}
	// ZADD NX reports 1 addition on success. Anything else — 0 because the
	// member already existed, or some other value entirely — is treated as
	// a duplicate re-enqueue rather than an error, so a lone unexpected
	// reply degrades to a soft anomaly instead of crashing the write path.
	return zaddCmd.Val() != 1, nil
}

func (g *RedisGateway) Rollback(ctx context.Context, id string) error {
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, QueueKey, id)
		pipe.Del(ctx, contentKey(id))
		return nil
	})
	if err != nil {
		return &OpError{Op: "Rollback", Err: err}
	}
	return nil
}

func (g *RedisGateway) Claim(ctx context.Context, id string, ttl int64) (bool, error) {
	claimed, err := g.client.SetNX(ctx, lockKey(id), 1, time.Duration(ttl)*time.Millisecond).Result()
	if err != nil {
		return false, &OpError{Op: "Claim", Err: err}
	}
	return claimed, nil
}

func (g *RedisGateway) FetchContent(ctx context.Context, id string) (string, bool, error) {
	text, err := g.client.Get(ctx, contentKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &OpError{Op: "FetchContent", Err: err}
	}
	return text, true, nil
}

func (g *RedisGateway) Cleanup(ctx context.Context, id string) error {
	_, err := g.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, contentKey(id))
		pipe.ZRem(ctx, QueueKey, id)
		pipe.Del(ctx, lockKey(id))
		return nil
	})
	if err != nil {
		return &OpError{Op: "Cleanup", Err: err}
	}
	return nil
}

// WatchedRepublish recomputes the current minimum due-time under a WATCH on
// QueueKey and publishes it. If another replica mutates the queue between
// the read and the publish, the transaction aborts and aborted is reported
// true rather than surfacing redis.TxFailedErr as a hard error: the caller's
// own subscription will observe the concurrent writer's publish instead.
func (g *RedisGateway) WatchedRepublish(ctx context.Context) (bool, error) {
	err := g.client.Watch(ctx, func(tx *redis.Tx) error {
		res, err := tx.ZRangeWithScores(ctx, QueueKey, 0, 0).Result()
		if err != nil {
			return err
		}

		payload := EncodeNDTEmpty()
		if len(res) > 0 {
			payload = EncodeNDT(int64(res[0].Score))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Publish(ctx, Channel, payload)
			return nil
		})
		return err
	}, QueueKey)

	if errors.Is(err, redis.TxFailedErr) {
		return true, nil
	}
	if err != nil {
		return false, &OpError{Op: "WatchedRepublish", Err: err}
	}
	return false, nil
}

func (g *RedisGateway) Subscribe(ctx context.Context) (Subscription, error) {
	if g.sub == nil {
		g.sub = g.client.WithTimeout(0)
	}
	pubsub := g.sub.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, &OpError{Op: "Subscribe", Err: err}
	}
	return &redisSubscription{pubsub: pubsub}, nil
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Recv(ctx context.Context) ([]byte, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, &OpError{Op: "Subscription.Recv", Err: err}
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

func toEntries(res []redis.Z) []Entry {
	entries := make([]Entry, len(res))
	for i, z := range res {
		entries[i] = Entry{ID: z.Member.(string), Score: int64(z.Score)}
	}
	return entries
}

func scoreString(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
