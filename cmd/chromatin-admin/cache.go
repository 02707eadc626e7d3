package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/bootstrap"
)

const (
	cacheScanCount   = 100
	cacheDeleteBatch = 500
)

type cacheOptions struct {
	Kind   string
	Limit  int
	DryRun bool
	Yes    bool
}

// cachePattern matches every cached artifact, or only one kind such as "structure".
func cachePattern(namespace, kind string) string {
	namespace = strings.TrimSuffix(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = "chromatin:result"
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return namespace + ":*"
	}
	return namespace + ":" + kind + ":*"
}

func parseCacheFlags(name string, args []string, destructive bool, errOut io.Writer) (cacheOptions, error) {
	fs := newFlagSet(name, errOut)

	opts := cacheOptions{}
	fs.StringVar(&opts.Kind, "kind", "", "Restrict to one artifact kind (e.g. structure)")
	if destructive {
		fs.BoolVar(&opts.DryRun, "dry-run", false, "Report matching keys without deleting them")
		fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	} else {
		fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of keys to print")
	}

	if err := fs.Parse(args); err != nil {
		return cacheOptions{}, err
	}
	if !destructive && opts.Limit <= 0 {
		return cacheOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func runListCacheKeys(a *app, args []string) error {
	opts, err := parseCacheFlags("list-cache-keys", args, false, a.errOut)
	if err != nil {
		return err
	}
	return a.withRedis(func(ctx context.Context, client redis.UniversalClient) error {
		pattern := cachePattern(a.cfg.Cache.Namespace, opts.Kind)
		a.logger.Info("scanning redis", "pattern", pattern)

		entries, total, scanErr := scanCacheKeys(ctx, client, pattern, opts.Limit)
		if scanErr != nil {
			return scanErr
		}
		return renderCacheEntries(a.out, entries, total)
	})
}

func runClearCache(a *app, args []string) error {
	opts, err := parseCacheFlags("clear-cache", args, true, a.errOut)
	if err != nil {
		return err
	}
	pattern := cachePattern(a.cfg.Cache.Namespace, opts.Kind)
	err = a.confirm(opts.Yes || opts.DryRun,
		"WARNING: cached prediction results will be recomputed on the next matching job.",
		fmt.Sprintf("About to delete keys matching %q.", pattern))
	if err != nil {
		return err
	}

	return a.withRedis(func(ctx context.Context, client redis.UniversalClient) error {
		matched, deleted, delErr := deleteCacheKeys(ctx, client, pattern, opts.DryRun, a.logger)
		if delErr != nil {
			return delErr
		}
		if opts.DryRun {
			return writef(a.out, "Dry run: %d keys match %s\n", matched, pattern)
		}
		return writef(a.out, "Deleted %d of %d keys matching %s\n", deleted, matched, pattern)
	})
}

type cacheEntry struct {
	Key string
	TTL time.Duration
}

func scanCacheKeys(ctx context.Context, client redis.UniversalClient, pattern string, limit int) ([]cacheEntry, int, error) {
	iter := client.Scan(ctx, 0, pattern, cacheScanCount).Iterator()
	var entries []cacheEntry
	total := 0
	for iter.Next(ctx) {
		total++
		if len(entries) >= limit {
			continue
		}
		key := iter.Val()
		ttl, err := client.TTL(ctx, key).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("ttl %s: %w", key, err)
		}
		entries = append(entries, cacheEntry{Key: key, TTL: ttl})
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("redis scan: %w", err)
	}
	return entries, total, nil
}

func deleteCacheKeys(
	ctx context.Context,
	client redis.UniversalClient,
	pattern string,
	dryRun bool,
	logger *slog.Logger,
) (int, int64, error) {
	iter := client.Scan(ctx, 0, pattern, cacheScanCount).Iterator()
	matched := 0
	var deleted int64
	batch := make([]string, 0, cacheDeleteBatch)

	flush := func() error {
		if len(batch) == 0 || dryRun {
			batch = batch[:0]
			return nil
		}
		n, err := client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		deleted += n
		logger.Debug("deleted cache batch", "keys", len(batch), "removed", n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		matched++
		batch = append(batch, iter.Val())
		if len(batch) >= cacheDeleteBatch {
			if err := flush(); err != nil {
				return matched, deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return matched, deleted, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return matched, deleted, err
	}
	return matched, deleted, nil
}

func renderCacheEntries(w io.Writer, entries []cacheEntry, total int) error {
	if total == 0 {
		return writef(w, "(no keys found)\n")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "KEY\tTTL\n"); err != nil {
		return fmt.Errorf("print cache header: %w", err)
	}
	for _, e := range entries {
		if err := writef(tw, "%s\t%s\n", e.Key, renderTTL(e.TTL)); err != nil {
			return fmt.Errorf("print cache entry: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if total > len(entries) {
		return writef(w, "\nShowing %d of %d keys\n", len(entries), total)
	}
	return writef(w, "\nTotal keys: %d\n", total)
}

// renderTTL follows redis TTL conventions: -1 means no expiry, -2 means the key is gone.
func renderTTL(d time.Duration) string {
	switch {
	case d == -1:
		return "no expiry"
	case d == -2:
		return "expired"
	case d < 0:
		return "unknown"
	default:
		return d.Round(time.Second).String()
	}
}

func (a *app) withRedis(fn func(context.Context, redis.UniversalClient) error) error {
	if !hasRedisConfig(&a.cfg.Redis) {
		return errors.New("redis is not configured")
	}

	ctx, cancel := context.WithTimeout(a.ctx, defaultCommandTimeout)
	defer cancel()

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: a.cfg.Redis, Logger: a.logger})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			a.logger.Warn("redis close failed", "error", cerr)
		}
	}()

	return fn(ctx, client)
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}
