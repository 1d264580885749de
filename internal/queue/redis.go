package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisConfig configures a RedisBroker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Default "seo".
	Prefix     string
	Visibility time.Duration
	// Poll is the sleep between empty fetch attempts. Default 250ms.
	Poll time.Duration
}

// RedisBroker stores each queue as a ready list plus two sorted sets: one
// for delayed retries, one for leased jobs scored by lease deadline.
type RedisBroker struct {
	rdb        *redis.Client
	prefix     string
	visibility time.Duration
	poll       time.Duration
}

// claimScript moves due delayed jobs and expired leases back to the ready
// list, then leases the head of the list.
var claimScript = redis.NewScript(`
local ready, delayed, inflight = KEYS[1], KEYS[2], KEYS[3]
local now, deadline = tonumber(ARGV[1]), tonumber(ARGV[2])
for _, key in ipairs({delayed, inflight}) do
	local due = redis.call('ZRANGEBYSCORE', key, '-inf', now)
	for _, v in ipairs(due) do
		redis.call('ZREM', key, v)
		redis.call('RPUSH', ready, v)
	end
end
local v = redis.call('LPOP', ready)
if v then
	redis.call('ZADD', inflight, deadline, v)
end
return v
`)

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "queue: redis ping %s", cfg.Addr)
	}
	return newRedisBroker(rdb, cfg), nil
}

func newRedisBroker(rdb *redis.Client, cfg RedisConfig) *RedisBroker {
	b := &RedisBroker{rdb: rdb, prefix: cfg.Prefix, visibility: cfg.Visibility, poll: cfg.Poll}
	if b.prefix == "" {
		b.prefix = "seo"
	}
	if b.visibility <= 0 {
		b.visibility = 2 * time.Minute
	}
	if b.poll <= 0 {
		b.poll = 250 * time.Millisecond
	}
	return b
}

func (b *RedisBroker) key(queue Name, part string) string {
	return b.prefix + ":queue:" + string(queue) + ":" + part
}

func (b *RedisBroker) Publish(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "queue: marshal job")
	}
	return eris.Wrapf(b.rdb.RPush(ctx, b.key(job.Queue, "ready"), raw).Err(), "queue: redis publish %s", job.Queue)
}

func (b *RedisBroker) Fetch(ctx context.Context, queue Name, wait time.Duration) (Delivery, error) {
	deadline := time.Now().Add(wait)
	keys := []string{b.key(queue, "ready"), b.key(queue, "delayed"), b.key(queue, "inflight")}
	for {
		now := time.Now()
		v, err := claimScript.Run(ctx, b.rdb, keys,
			strconv.FormatInt(now.UnixMilli(), 10),
			strconv.FormatInt(now.Add(b.visibility).UnixMilli(), 10),
		).Text()
		switch {
		case err == nil:
			var job Job
			if err := json.Unmarshal([]byte(v), &job); err != nil {
				// Unreadable entries would be redelivered forever.
				b.rdb.ZRem(ctx, keys[2], v)
				return nil, eris.Wrapf(err, "queue: decode %s job", queue)
			}
			return &redisDelivery{broker: b, job: job, member: v}, nil
		case !errors.Is(err, redis.Nil):
			return nil, eris.Wrapf(err, "queue: redis fetch %s", queue)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoJob
		}
		timer := time.NewTimer(min(remaining, b.poll))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

type redisDelivery struct {
	broker *RedisBroker
	job    Job
	member string
}

func (d *redisDelivery) Job() Job { return d.job }

func (d *redisDelivery) release(ctx context.Context) error {
	n, err := d.broker.rdb.ZRem(ctx, d.broker.key(d.job.Queue, "inflight"), d.member).Result()
	if err != nil {
		return eris.Wrapf(err, "queue: redis settle %s", d.job.ID)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (d *redisDelivery) Ack(ctx context.Context) error  { return d.release(ctx) }
func (d *redisDelivery) Kill(ctx context.Context) error { return d.release(ctx) }

func (d *redisDelivery) Retry(ctx context.Context, delay time.Duration) error {
	if err := d.release(ctx); err != nil {
		return err
	}
	job := d.job
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "queue: marshal job")
	}
	at := float64(time.Now().Add(delay).UnixMilli())
	err = d.broker.rdb.ZAdd(ctx, d.broker.key(job.Queue, "delayed"), redis.Z{Score: at, Member: raw}).Err()
	return eris.Wrapf(err, "queue: redis retry %s", job.ID)
}
