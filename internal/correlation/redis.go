package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a correlation store backed by Redis so multiple daemon
// replicas can share in-flight call state. Keys expire after ttl; a
// non-positive ttl defaults to two hours.
func NewRedis(client *redis.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &redisStore{client: client, ttl: ttl}
}

func handleKey(callID int64) string {
	return "dialqueue:call:" + strconv.FormatInt(callID, 10)
}

func customerKey(customerID string) string {
	return "dialqueue:customer:" + customerID
}

func transcriptKey(callID int64) string {
	return "dialqueue:transcript:" + strconv.FormatInt(callID, 10)
}

func (r *redisStore) Put(ctx context.Context, handle Handle) error {
	payload, err := json.Marshal(handle)
	if err != nil {
		return fmt.Errorf("marshal handle: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, handleKey(handle.CallID), payload, r.ttl)
	if handle.CustomerID != "" {
		pipe.Set(ctx, customerKey(handle.CustomerID), strconv.FormatInt(handle.CallID, 10), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store handle: %w", err)
	}
	return nil
}

func (r *redisStore) Get(ctx context.Context, callID int64) (Handle, bool, error) {
	payload, err := r.client.Get(ctx, handleKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, fmt.Errorf("get handle: %w", err)
	}
	var handle Handle
	if err := json.Unmarshal(payload, &handle); err != nil {
		return Handle{}, false, fmt.Errorf("decode handle: %w", err)
	}
	return handle, true, nil
}

func (r *redisStore) ByCustomer(ctx context.Context, customerID string) (Handle, bool, error) {
	raw, err := r.client.Get(ctx, customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, fmt.Errorf("get customer index: %w", err)
	}
	callID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Handle{}, false, fmt.Errorf("parse customer index: %w", err)
	}
	return r.Get(ctx, callID)
}

func (r *redisStore) SetTranscript(ctx context.Context, callID int64, transcript string) error {
	if err := r.client.Set(ctx, transcriptKey(callID), transcript, r.ttl).Err(); err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}
	return nil
}

func (r *redisStore) Transcript(ctx context.Context, callID int64) (string, bool, error) {
	transcript, err := r.client.Get(ctx, transcriptKey(callID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get transcript: %w", err)
	}
	return transcript, true, nil
}

func (r *redisStore) Remove(ctx context.Context, callID int64) error {
	handle, found, err := r.Get(ctx, callID)
	if err != nil {
		return err
	}

	keys := []string{handleKey(callID), transcriptKey(callID)}
	if found && handle.CustomerID != "" {
		keys = append(keys, customerKey(handle.CustomerID))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("remove handle: %w", err)
	}
	return nil
}
