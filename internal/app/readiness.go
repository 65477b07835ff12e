package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// KafkaPinger is the minimal interface for a Kafka client capable of Ping.
type KafkaPinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns three readiness checks: db, redis, and kafka.
func BuildReadinessChecks(pool Pinger, rdb RedisClient, broker KafkaPinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	kafkaCheck := func(ctx context.Context) error {
		if broker == nil {
			return fmt.Errorf("kafka not configured")
		}
		return broker.Ping(ctx)
	}
	return dbCheck, redisCheck, kafkaCheck
}
