package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valpere/llmvalues/internal/translator"
)

const redisMemoPrefix = "llmvalues:tr:"

// RedisMemo is a translation memo shared between machines. Keys hash the full
// (text, target, model) triple so arbitrarily long texts stay addressable.
type RedisMemo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMemo parses a redis:// URL. A bare host:port is accepted as well.
// ttl of zero keeps entries forever.
func NewRedisMemo(url string, ttl time.Duration) (*RedisMemo, error) {
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisMemo{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (m *RedisMemo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func redisKey(key translator.MemoKey) string {
	sum := sha256.Sum256([]byte(key.Model + "\x00" + key.Target + "\x00" + key.Text))
	return redisMemoPrefix + hex.EncodeToString(sum[:])
}

func (m *RedisMemo) Get(ctx context.Context, key translator.MemoKey) (string, bool, error) {
	val, err := m.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (m *RedisMemo) Put(ctx context.Context, key translator.MemoKey, value string) error {
	return m.client.Set(ctx, redisKey(key), value, m.ttl).Err()
}

// Clear deletes every memo key and returns how many were removed.
func (m *RedisMemo) Clear(ctx context.Context) (int64, error) {
	var total int64
	iter := m.client.Scan(ctx, 0, redisMemoPrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.client.Del(ctx, batch...).Result()
		total += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return total, err
	}
	return total, flush()
}

// Count returns the number of memo keys.
func (m *RedisMemo) Count(ctx context.Context) (int64, error) {
	var n int64
	iter := m.client.Scan(ctx, 0, redisMemoPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (m *RedisMemo) Close() error {
	return m.client.Close()
}
