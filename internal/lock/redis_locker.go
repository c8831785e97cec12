package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger-auditor/internal/models"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisLocker holds a redislock lease for the lifetime of a run, refreshing it
// at half the TTL so long runs keep the key.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		logger: logger,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, models.ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain run lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
					l.logger.Warn().Err(err).Str("key", key).Msg("Failed to refresh run lock")
				}
			}
		}
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			wg.Wait()
			err = lock.Release(ctx)
			if errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn().Str("key", key).Msg("Run lock expired before release")
				err = nil
			}
		})
		return err
	}
	return release, nil
}
