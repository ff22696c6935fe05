package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "movielinks:token:"

// consumeScript mirrors Check and marks the token used in the same call.
// Return codes: 1 ok, 0 missing, -1 owner, -2 expired, -3 consumed.
var consumeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'user_id', 'created_at', 'consumed_at')
if not f[1] then return 0 end
if f[1] ~= ARGV[1] then return -1 end
if tonumber(f[2]) + tonumber(ARGV[3]) <= tonumber(ARGV[2]) then return -2 end
if f[3] then return -3 end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[2])
return 1
`)

// RedisStore keeps each token in a hash that Redis expires on its own a
// while after the redemption window closes.
type RedisStore struct {
	rdb    *redis.Client
	keyTTL time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, keyTTL: 2 * ttl}
}

func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, errors.New("REDIS_URL is empty")
	}
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	key := redisKeyPrefix + rec.Token
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"user_id", strconv.FormatInt(rec.UserID, 10),
			"movie_code", rec.MovieCode,
			"part", strconv.Itoa(rec.Part),
			"quality", rec.Quality,
			"created_at", strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
		)
		p.Expire(ctx, key, s.keyTTL)
		return nil
	})
	return err
}

func (s *RedisStore) Consume(ctx context.Context, token string, userID int64, now time.Time, ttl time.Duration) (*Record, error) {
	key := redisKeyPrefix + token
	code, err := consumeScript.Run(ctx, s.rdb, []string{key},
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	switch code {
	case 1:
	case 0:
		return nil, ErrNotFound
	case -1:
		return nil, ErrOwnerMismatch
	case -2:
		return nil, ErrExpired
	default:
		return nil, ErrConsumed
	}

	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	return recordFromHash(token, fields)
}

func (s *RedisStore) Release(ctx context.Context, token string) error {
	return s.rdb.HDel(ctx, redisKeyPrefix+token, "consumed_at").Err()
}

func recordFromHash(token string, f map[string]string) (*Record, error) {
	if len(f) == 0 {
		return nil, ErrNotFound
	}
	uid, err := strconv.ParseInt(f["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("token %s: bad user_id: %w", token, err)
	}
	part, _ := strconv.Atoi(f["part"])
	if part < 1 {
		part = 1
	}
	created, _ := strconv.ParseInt(f["created_at"], 10, 64)
	rec := &Record{
		Token:     token,
		UserID:    uid,
		MovieCode: f["movie_code"],
		Part:      part,
		Quality:   f["quality"],
		CreatedAt: time.UnixMilli(created).UTC(),
	}
	if v, ok := f["consumed_at"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			rec.ConsumedAt = &t
		}
	}
	return rec, nil
}
