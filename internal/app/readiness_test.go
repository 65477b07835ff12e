package app

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFake struct{ err error }

func (p pingerFake) Ping(context.Context) error { return p.err }

func TestBuildReadinessChecks_NilDependencies(t *testing.T) {
	t.Parallel()
	dbCheck, redisCheck, kafkaCheck := BuildReadinessChecks(nil, nil, nil)

	ctx := context.Background()
	assert.ErrorContains(t, dbCheck(ctx), "db not configured")
	assert.ErrorContains(t, redisCheck(ctx), "redis not configured")
	assert.ErrorContains(t, kafkaCheck(ctx), "kafka not configured")
}

func TestBuildReadinessChecks_Healthy(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dbCheck, redisCheck, kafkaCheck := BuildReadinessChecks(pingerFake{}, rdb, pingerFake{})

	ctx := context.Background()
	require.NoError(t, dbCheck(ctx))
	require.NoError(t, redisCheck(ctx))
	require.NoError(t, kafkaCheck(ctx))
}

func TestBuildReadinessChecks_Failures(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	dbCheck, redisCheck, _ := BuildReadinessChecks(pingerFake{err: errors.New("pool closed")}, rdb, pingerFake{})

	ctx := context.Background()
	assert.Error(t, dbCheck(ctx))
	assert.Error(t, redisCheck(ctx))
}
