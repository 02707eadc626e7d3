package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisProbeTimeout = 2 * time.Second
	redisLockTTL      = 30 * time.Minute
	redisMaxTestDB    = 15
)

// redisCandidates lists addresses tried in order: REDIS_ADDR, the compose service name,
// a default local port, then the test profile's 56379.
func redisCandidates() []string {
	var out []string
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		out = append(out, addr)
	}
	return append(out, "redis:6379", "localhost:6379", "localhost:56379")
}

// SetupTestRedis returns a client on an emptied logical database reserved for this test.
// The test is skipped (or failed, with TEST_REQUIRE_REDIS) when no server answers.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := findRedis()
	if !ok {
		unavailable(t, requireRedis(), "redis not available for testing at %v", redisCandidates())
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: reserveRedisDB(t, addr)})
	ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeQuietly(t, "redis client", client)
		unavailable(t, requireRedis(), "redis not available for testing at %s: %v", addr, err)
		return nil
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Logf("warning: flush test redis db: %v", err)
	}
	return client
}

func findRedis() (string, bool) {
	for _, addr := range redisCandidates() {
		if pingRedis(addr) == nil {
			return addr, true
		}
	}
	return "", false
}

func pingRedis(addr string) error {
	c := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
	defer cancel()
	return c.Ping(ctx).Err()
}

// reserveRedisDB picks a logical database so parallel packages do not flush each other.
// TEST_REDIS_DB wins; otherwise the first DB in 1..15 whose lock key in DB 0 can be set.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer closeQuietly(t, "redis meta client", meta)

	owner := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	for db := 1; db <= redisMaxTestDB; db++ {
		key := fmt.Sprintf("chromatin:testutil:db_lock:%d", db)
		ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
		won, err := meta.SetNX(ctx, key, owner, redisLockTTL).Result()
		cancel()
		if err != nil || !won {
			continue
		}
		releaseOnCleanup(t, addr, key)
		return db
	}
	t.Logf("all redis test dbs reserved, sharing DB 1")
	return 1
}

func releaseOnCleanup(t TestingTB, addr, key string) {
	tc, ok := t.(interface{ Cleanup(func()) })
	if !ok {
		return
	}
	tc.Cleanup(func() {
		c := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
		defer closeQuietly(t, "redis cleanup client", c)
		ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
		defer cancel()
		if err := c.Del(ctx, key).Err(); err != nil {
			t.Logf("warning: release redis lock %s: %v", key, err)
		}
	})
}
