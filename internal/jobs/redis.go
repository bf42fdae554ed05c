package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisJobPrefix = "photoexport:job:"
	redisIndexKey  = "photoexport:jobs"

	maxUpdateAttempts = 8
)

// RedisClient is the subset of go-redis used by RedisRegistry.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

var _ RedisClient = (*redis.Client)(nil)

// RedisRegistry stores each job as a JSON document under its own key so
// the API and worker processes can share job state. Updates use
// WATCH/MULTI and retry on conflict.
type RedisRegistry struct {
	rdb RedisClient
	ttl time.Duration
}

// NewRedisRegistry returns a registry whose records expire after ttl
// (zero keeps them until deleted).
func NewRedisRegistry(rdb RedisClient, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func jobKey(id string) string {
	return redisJobPrefix + id
}

func (r *RedisRegistry) Create(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, jobKey(job.ID), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	if !ok {
		return ErrJobExists
	}
	if err := r.rdb.SAdd(ctx, redisIndexKey, job.ID).Err(); err != nil {
		return fmt.Errorf("index job %s: %w", job.ID, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Job, error) {
	raw, err := r.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return decodeJob(raw)
}

func (r *RedisRegistry) Update(ctx context.Context, id string, fn func(*Job) error) (Job, error) {
	key := jobKey(id)
	var current, updated Job
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		current, err = decodeJob(raw)
		if err != nil {
			return err
		}
		updated = current
		if err := fn(&updated); err != nil {
			return err
		}
		b, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				return Job{}, err
			}
			return current, err
		}
		return updated, nil
	}
	return current, fmt.Errorf("update job %s: too many concurrent writers", id)
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return err
	}
	_ = r.rdb.SRem(ctx, redisIndexKey, id).Err()
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]Job, error) {
	ids, err := r.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Job{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, jobKey(id))
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	items := make([]Job, 0, len(values))
	expired := make([]interface{}, 0)
	for i, v := range values {
		s, ok := v.(string)
		if !ok || s == "" {
			expired = append(expired, ids[i])
			continue
		}
		job, err := decodeJob([]byte(s))
		if err != nil {
			continue
		}
		items = append(items, job)
	}
	if len(expired) > 0 {
		_ = r.rdb.SRem(ctx, redisIndexKey, expired...).Err()
	}
	sortNewestFirst(items)
	return items, nil
}

func decodeJob(raw []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job record: %w", err)
	}
	return job, nil
}
