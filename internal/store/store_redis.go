package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/obslog"
)

const (
	RoomsSetKey       = "rooms"
	defaultMaxRetries = 5
)

// ErrContention: 모든 시도에서 WATCH 키가 다른 writer에 의해 변경된 경우.
var ErrContention = apperr.New(apperr.Conflict, "concurrent_update", "room changed concurrently")

func RoomKey(id string) string       { return "room:" + strings.TrimSpace(id) }
func ChatKey(id string) string       { return "chat:room:" + strings.TrimSpace(id) }
func EventsChannel(id string) string { return RoomKey(id) + ":events" }

// Redis is the key-value, set and list adapter over go-redis.
type Redis struct {
	rdb        *redis.Client
	maxRetries int
}

type Option func(*Redis)

// WithMaxRetries bounds optimistic-update attempts.
func WithMaxRetries(n int) Option {
	return func(r *Redis) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func New(rdb *redis.Client, opts ...Option) *Redis {
	r := &Redis{rdb: rdb, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to REDIS_URL and pings it.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ParseRedisURL accepts redis://[:password@]host:port/db.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}

func (r *Redis) Client() *redis.Client { return r.rdb }

func (r *Redis) Ping(ctx context.Context) error {
	return apperr.Store("redis ping", r.rdb.Ping(ctx).Err())
}

// Get returns the value at key; absent keys yield (nil, false, nil).
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Store("get "+key, err)
	}
	return raw, true, nil
}

// MGet fetches several keys at once; missing keys are skipped.
func (r *Redis) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Store("mget", err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, []byte(s))
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return apperr.Store("set "+key, r.rdb.Set(ctx, key, value, 0).Err())
}

// SetNX writes value only if key is free and reports whether it did.
func (r *Redis) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, apperr.Store("setnx "+key, err)
	}
	return ok, nil
}

// Delete removes keys and returns how many existed.
func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	n, err := r.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, apperr.Store("del", err)
	}
	return n, nil
}

func (r *Redis) AddToSet(ctx context.Context, setKey, member string) error {
	if strings.TrimSpace(member) == "" {
		return nil
	}
	return apperr.Store("sadd "+setKey, r.rdb.SAdd(ctx, setKey, member).Err())
}

func (r *Redis) RemoveFromSet(ctx context.Context, setKey, member string) error {
	return apperr.Store("srem "+setKey, r.rdb.SRem(ctx, setKey, member).Err())
}

func (r *Redis) Members(ctx context.Context, setKey string) ([]string, error) {
	ms, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, apperr.Store("smembers "+setKey, err)
	}
	return ms, nil
}

// UpdateFunc는 현재 값(없으면 nil)을 받아 커밋할 값을 반환. 에러를 반환하면 그대로 중단.
type UpdateFunc func(cur []byte) ([]byte, error)

// Update는 key에 대해 WATCH/MULTI read-modify-write를 수행.
// 중간에 다른 writer가 커밋하면 fn을 다시 실행하고, 재시도 한도를 넘으면 ErrContention.
func (r *Redis) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	var committed []byte
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		committed = next
		return nil
	}

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return committed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			obslog.L().Debug("store_update_retry", zap.String("key", key), zap.Int("attempt", attempt))
			continue
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.Store("update "+key, err)
	}
	obslog.L().Warn("store_update_contention", zap.String("key", key), zap.Int("attempts", r.maxRetries))
	return nil, ErrContention
}

// Append는 리스트에 추가 후 최신 limit개만 남기도록 원자적으로 trim.
func (r *Redis) Append(ctx context.Context, listKey string, value []byte, limit int) error {
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, listKey, value)
	if limit > 0 {
		pipe.LTrim(ctx, listKey, int64(-limit), -1)
	}
	_, err := pipe.Exec(ctx)
	return apperr.Store("append "+listKey, err)
}

// RangeLast returns up to the newest n entries, oldest first.
func (r *Redis) RangeLast(ctx context.Context, listKey string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := r.rdb.LRange(ctx, listKey, int64(-n), -1).Result()
	if err != nil {
		return nil, apperr.Store("lrange "+listKey, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Publish fans a payload out to live subscribers. Delivery is best-effort.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return apperr.Store("publish "+channel, r.rdb.Publish(ctx, channel, payload).Err())
}

// Subscribe opens a subscription; callers must Close it.
func (r *Redis) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, channel)
}
