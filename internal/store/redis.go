package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// DefaultRedisPrefix namespaces run keys.
const DefaultRedisPrefix = "greeneval:runs:"

// RedisStorage keeps runs in Redis. Each run is a JSON string; sorted sets
// scored by creation time index all runs and the runs of each dataset.
type RedisStorage struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// saveAttempts bounds optimistic retries when a run changes during Save.
const saveAttempts = 3

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, url string, log *logger.Logger) (*RedisStorage, error) {
	if log == nil {
		log = logger.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("parsing redis URL: %v", err))
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperrors.StoreError("connecting to redis", err)
	}

	return &RedisStorage{
		client: client,
		prefix: DefaultRedisPrefix,
		log:    log,
	}, nil
}

func (rs *RedisStorage) runKey(id string) string {
	return rs.prefix + "run:" + id
}

func (rs *RedisStorage) indexKey(dataset string) string {
	if dataset == "" {
		return rs.prefix + "index"
	}
	return rs.prefix + "dataset:" + dataset
}

// Save stores the run and indexes it. Replacing a run recorded under
// another dataset moves its dataset index entry.
func (rs *RedisStorage) Save(ctx context.Context, run *Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(run)
	if err != nil {
		return apperrors.StoreError("encode run", err)
	}

	key := rs.runKey(run.ID)
	score := float64(run.CreatedAt.UnixMilli())
	save := func(tx *redis.Tx) error {
		previous, err := rs.datasetOf(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, rs.indexKey(""), redis.Z{Score: score, Member: run.ID})
			pipe.ZAdd(ctx, rs.indexKey(run.Dataset), redis.Z{Score: score, Member: run.ID})
			if previous != "" && previous != run.Dataset {
				pipe.ZRem(ctx, rs.indexKey(previous), run.ID)
			}
			return nil
		})
		return err
	}

	for range saveAttempts {
		err = rs.client.Watch(ctx, save, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return apperrors.StoreError("save run", err)
	}
	return nil
}

// datasetOf returns the dataset of the stored run at key, or "" if there is
// none or its body cannot be decoded.
func (rs *RedisStorage) datasetOf(ctx context.Context, tx *redis.Tx, key string) (string, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var prev struct {
		Dataset string `json:"dataset"`
	}
	if err := json.Unmarshal(data, &prev); err != nil {
		rs.log.WithError(err).Warn("Replacing undecodable run", "key", key)
		return "", nil
	}
	return prev.Dataset, nil
}

// Get returns a run by ID.
func (rs *RedisStorage) Get(ctx context.Context, id string) (*Run, error) {
	data, err := rs.client.Get(ctx, rs.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFoundError("run " + id)
	}
	if err != nil {
		return nil, apperrors.StoreError("get run", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, apperrors.StoreError("decode run", err)
	}
	return &run, nil
}

// List returns runs newest first.
func (rs *RedisStorage) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = int64(opts.Limit - 1)
	}
	ids, err := rs.client.ZRevRange(ctx, rs.indexKey(opts.Dataset), 0, stop).Result()
	if err != nil {
		return nil, apperrors.StoreError("list runs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rs.runKey(id)
	}
	values, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.StoreError("load runs", err)
	}

	runs := make([]*Run, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			rs.log.Warn("Skipping indexed run without a body", "run_id", ids[i])
			continue
		}
		var run Run
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			rs.log.WithError(err).Warn("Skipping undecodable run", "run_id", ids[i])
			continue
		}
		runs = append(runs, &run)
	}
	sortNewestFirst(runs)
	return runs, nil
}

// Delete removes a run and its index entries.
func (rs *RedisStorage) Delete(ctx context.Context, id string) error {
	run, err := rs.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, rs.runKey(id))
	pipe.ZRem(ctx, rs.indexKey(""), id)
	pipe.ZRem(ctx, rs.indexKey(run.Dataset), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StoreError("delete run", err)
	}
	return nil
}

// Clear removes every key under the storage prefix.
func (rs *RedisStorage) Clear(ctx context.Context) error {
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperrors.StoreError("scan keys", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := rs.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.StoreError("clear runs", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
