package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petmerch/api/internal/model"
)

const (
	DesignTTL  = 7 * 24 * time.Hour
	SessionTTL = 24 * time.Hour

	maxTxRetries = 10
)

var errNoChange = errors.New("no change")

func designKey(id string) string  { return fmt.Sprintf("design:%s", id) }
func sessionKey(id string) string { return fmt.Sprintf("checkout:%s", id) }

// watchUpdate runs an optimistic WATCH/MULTI transaction on key. fn receives the
// current value and returns the new one; errNoChange skips the write. Errors from
// fn are returned unchanged, Redis failures as *model.StorageError.
func watchUpdate(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration, notFound error, fn func([]byte) ([]byte, error)) error {
	var fnErr error
	txf := func(tx *redis.Tx) error {
		fnErr = nil
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			fnErr = notFound
			return fnErr
		}
		if err != nil {
			return err
		}

		next, err := fn(data)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := rdb.Watch(ctx, txf, key)
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return storageErr("update", err)
		}
		return nil
	}
	return storageErr("update", fmt.Errorf("%s: too much contention", key))
}

// RedisJobStore keeps jobs as JSON under design:<id>
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{client: client, ttl: DesignTTL}
}

func (s *RedisJobStore) Put(ctx context.Context, job *model.DesignJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return storageErr("put", err)
	}
	if err := s.client.Set(ctx, designKey(job.ID), data, s.ttl).Err(); err != nil {
		return storageErr("put", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.DesignJob, error) {
	data, err := s.client.Get(ctx, designKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jobNotFound(id)
		}
		return nil, storageErr("get", err)
	}

	var job model.DesignJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, storageErr("decode", err)
	}
	return &job, nil
}

func (s *RedisJobStore) Patch(ctx context.Context, id string, fn MutateFunc) (*model.DesignJob, error) {
	var result model.DesignJob
	err := watchUpdate(ctx, s.client, designKey(id), s.ttl, jobNotFound(id), func(data []byte) ([]byte, error) {
		result = model.DesignJob{}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, storageErr("decode", err)
		}
		changed, err := fn(&result)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, errNoChange
		}
		return json.Marshal(&result)
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return nil, err
	}
	return &result, nil
}

func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisJobStore) Close() error { return nil }

// RedisSessionStore keeps checkout sessions under checkout:<id>
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: SessionTTL}
}

func (s *RedisSessionStore) Create(ctx context.Context, session *model.CheckoutSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return storageErr("create session", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), data, s.ttl).Result()
	if err != nil {
		return storageErr("create session", err)
	}
	if !ok {
		return storageErr("create session", fmt.Errorf("session %s already exists", session.ID))
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*model.CheckoutSession, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessionNotFound(id)
		}
		return nil, storageErr("get session", err)
	}

	var session model.CheckoutSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, storageErr("decode session", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Update(ctx context.Context, id string, fn func(*model.CheckoutSession) error) (*model.CheckoutSession, error) {
	var result model.CheckoutSession
	err := watchUpdate(ctx, s.client, sessionKey(id), s.ttl, sessionNotFound(id), func(data []byte) ([]byte, error) {
		result = model.CheckoutSession{}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, storageErr("decode session", err)
		}
		if err := fn(&result); err != nil {
			return nil, err
		}
		return json.Marshal(&result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
