// Package cache holds rendered listing views and drops them after mutations.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "view:"

// ErrMiss is returned by Get when a view is not cached.
var ErrMiss = errors.New("view not cached")

// View names.
const HomeView = "home"

func DashboardView(userID string) string { return "dashboard:" + userID }
func PostView(postID string) string      { return "post:" + postID }

// Views caches serialized views and invalidates them.
//
// Every view carries a generation that Invalidate bumps. A reader takes the
// generation before loading from the store and hands it to Set, which drops the
// write when an invalidation happened in between.
type Views interface {
	Get(ctx context.Context, view string) ([]byte, error)
	Generation(ctx context.Context, view string) (int64, error)
	Set(ctx context.Context, view string, generation int64, payload []byte) error
	Invalidate(ctx context.Context, views ...string) error
}

// ErrStale is returned by Set when the view was invalidated after its generation was read.
var ErrStale = errors.New("view invalidated during load")

// RedisViews stores each view under "view:<name>" with a fixed TTL and its
// generation counter under "view:gen:<name>".
type RedisViews struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisViews(client *redis.Client, ttl time.Duration) *RedisViews {
	return &RedisViews{client: client, ttl: ttl}
}

func genKey(view string) string { return keyPrefix + "gen:" + view }

func (v *RedisViews) Get(ctx context.Context, view string) ([]byte, error) {
	payload, err := v.client.Get(ctx, keyPrefix+view).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get view %s: %w", view, err)
	}
	return payload, nil
}

// Generation returns the current generation of view. A view never invalidated is at 0.
func (v *RedisViews) Generation(ctx context.Context, view string) (int64, error) {
	generation, err := v.client.Get(ctx, genKey(view)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get view generation %s: %w", view, err)
	}
	return generation, nil
}

// Set stores payload only while the view is still at generation. The check and
// the write run in one WATCH/MULTI transaction.
func (v *RedisViews) Set(ctx context.Context, view string, generation int64, payload []byte) error {
	key := genKey(view)
	err := v.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			current, err = 0, nil
		}
		if err != nil {
			return err
		}
		if current != generation {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyPrefix+view, payload, v.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, ErrStale) || errors.Is(err, redis.TxFailedErr) {
		return ErrStale
	}
	if err != nil {
		return fmt.Errorf("set view %s: %w", view, err)
	}
	return nil
}

// Invalidate bumps the generation of every named view and deletes its payload
// in one transaction. Unknown views are ignored.
func (v *RedisViews) Invalidate(ctx context.Context, views ...string) error {
	if len(views) == 0 {
		return nil
	}
	_, err := v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, view := range views {
			pipe.Incr(ctx, genKey(view))
			pipe.Del(ctx, keyPrefix+view)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate views: %w", err)
	}
	return nil
}

// Nop never caches. It stands in when Redis is not configured.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error)       { return nil, ErrMiss }
func (Nop) Generation(context.Context, string) (int64, error) { return 0, nil }
func (Nop) Set(context.Context, string, int64, []byte) error  { return nil }
func (Nop) Invalidate(context.Context, ...string) error       { return nil }
