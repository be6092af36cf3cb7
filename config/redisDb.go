package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// SetRedis installs a client and its lock client. nil disconnects both.
func SetRedis(client *redis.Client) {
	rdb = client
	if client == nil {
		locker = nil
		return
	}
	locker = redislock.New(client)
}

// Every helper below is a no-op (or a miss) without redis, so sessions,
// caches and counters degrade to the database.

func GetRedisValue(ctx context.Context, key string) (string, bool, error) {
	if rdb == nil {
		return "", false, nil
	}
	val, err := rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return val, true, nil
}

// GetRedisObject decodes the JSON stored at key into dest.
func GetRedisObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, found, err := GetRedisValue(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisValue(ctx context.Context, key string, value string, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	return rdb.Set(ctx, key, value, exp).Err()
}

func SetRedisObject(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return SetRedisValue(ctx, key, string(encoded), exp)
}

func RemoveRedisKey(ctx context.Context, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

// GetRedisCounter increments key and returns the new value.
// ok is false when redis is not connected so callers can fall back to the DB.
func GetRedisCounter(ctx context.Context, key string) (n int64, ok bool, err error) {
	if rdb == nil {
		return 0, false, nil
	}
	if n, err = rdb.Incr(ctx, key).Result(); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// SeedRedisCounter sets key to floor unless it already holds a value.
func SeedRedisCounter(ctx context.Context, key string, floor int64) error {
	if rdb == nil {
		return nil
	}
	return rdb.SetNX(ctx, key, floor, 0).Err()
}

func redisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       intFromEnv("REDIS_DB", 0),
		PoolSize: intFromEnv("REDIS_POOL_SIZE", 50),
	}
}

// ConnectRedisWithRetry blocks until redis answers PING, then installs the client.
// Call it after the HTTP server is listening.
func ConnectRedisWithRetry() {
	opts := redisOptions()
	log := GetLogger().WithField("addr", opts.Addr)

	for attempt := 1; ; attempt++ {
		client := redis.NewClient(opts)
		err := client.Ping(context.Background()).Err()
		if err == nil {
			SetRedis(client)
			log.WithField("attempt", attempt).Info("connected to redis")
			return
		}
		_ = client.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).
			WithError(err).Warn("redis not reachable")
		time.Sleep(sleep)
	}
}
