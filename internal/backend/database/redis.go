package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	colorizationKeyPrefix      = "colorization:"
	userKeyPrefix              = "user:"
	userColorizationsKeyPrefix = "user_colorizations:"

	fieldColorizationCount = "colorization_count"
	fieldCreatedAt         = "created_at"
)

// RedisDatabase stores each record as JSON and keeps a per-user sorted set,
// scored by creation time in microseconds, for newest-first history reads.
type RedisDatabase struct {
	client *redis.Client
}

// NewRedisDatabase connects using a redis:// URL.
func NewRedisDatabase(connectionString string) (DatabaseService, error) {
	options, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid redis connection string: %w", err)
	}
	return &RedisDatabase{client: redis.NewClient(options)}, nil
}

func colorizationKey(id string) string {
	return colorizationKeyPrefix + id
}

func userKey(userID string) string {
	return userKeyPrefix + userID
}

func userColorizationsKey(userID string) string {
	return userColorizationsKeyPrefix + userID
}

// CreateDatabase only verifies connectivity; Redis needs no schema.
func (r *RedisDatabase) CreateDatabase(ctx context.Context) error {
	return r.Ping(ctx)
}

func (r *RedisDatabase) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisDatabase) Close() error {
	return r.client.Close()
}

func (r *RedisDatabase) CreateColorization(ctx context.Context, colorization *Colorization) error {
	payload, err := json.Marshal(colorization)
	if err != nil {
		return fmt.Errorf("failed to marshal colorization: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, colorizationKey(colorization.ID), payload, 0)
		pipe.ZAdd(ctx, userColorizationsKey(colorization.UserID), redis.Z{
			Score:  float64(colorization.CreatedAt.UnixMicro()),
			Member: colorization.ID,
		})
		return nil
	})
	return err
}

func (r *RedisDatabase) GetColorizationsByUser(ctx context.Context, userID string, limit int) ([]*Colorization, error) {
	colorizations := make([]*Colorization, 0)
	if limit <= 0 {
		return colorizations, nil
	}

	ids, err := r.client.ZRevRange(ctx, userColorizationsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return colorizations, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = colorizationKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// set member without a record, left behind by an interrupted delete
			continue
		}
		var c Colorization
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal colorization %s: %w", ids[i], err)
		}
		colorizations = append(colorizations, &c)
	}
	return colorizations, nil
}

func (r *RedisDatabase) DeleteColorization(ctx context.Context, id string) error {
	raw, err := r.client.Get(ctx, colorizationKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("colorization %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	var c Colorization
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return fmt.Errorf("failed to unmarshal colorization %s: %w", id, err)
	}

	var deleted *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, colorizationKey(id))
		pipe.ZRem(ctx, userColorizationsKey(c.UserID), id)
		return nil
	})
	if err != nil {
		return err
	}
	if deleted.Val() == 0 {
		// a concurrent delete won
		return fmt.Errorf("colorization %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *RedisDatabase) IncrementUserCount(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, userKey(userID), fieldColorizationCount, 1)
		pipe.HSetNX(ctx, userKey(userID), fieldCreatedAt, time.Now().UTC().Format(time.RFC3339Nano))
		return nil
	})
	return err
}

func (r *RedisDatabase) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	fields, err := r.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	profile := &UserProfile{ID: userID}
	if profile.ColorizationCount, err = strconv.ParseInt(fields[fieldColorizationCount], 10, 64); err != nil {
		return nil, fmt.Errorf("invalid colorization count for user %s: %w", userID, err)
	}
	if createdAt, ok := fields[fieldCreatedAt]; ok {
		if profile.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("invalid creation time for user %s: %w", userID, err)
		}
	}
	return profile, nil
}
