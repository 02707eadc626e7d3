package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/migrate"
)

const redisPingTimeout = 5 * time.Second

// DatabaseConfig contains configuration for the PostgreSQL and Redis connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens the pgx-backed pool and verifies it with a ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	dbc := cfg.DBConfig
	db, err := sql.Open("pgx", dbc.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyPoolLimits(db, dbc)

	timeout := dbc.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, closeAfter(fmt.Errorf("ping database: %w", err), db.Close)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", dbc.Host,
			"port", dbc.Port,
			"database", dbc.Name,
			"max_open_conns", dbc.MaxOpenConns,
		)
	}
	return db, nil
}

func applyPoolLimits(db *sql.DB, c config.DBConfig) {
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
}

func closeAfter(err error, closeFn func() error) error {
	if cerr := closeFn(); cerr != nil {
		return errors.Join(err, fmt.Errorf("close: %w", cerr))
	}
	return err
}

type redisMode int

const (
	redisDirect redisMode = iota
	redisSentinel
	redisCluster
)

func (m redisMode) String() string {
	switch m {
	case redisSentinel:
		return "sentinel"
	case redisCluster:
		return "cluster"
	default:
		return "direct"
	}
}

// ConnectRedis builds a direct, sentinel or cluster client from cfg and pings it.
//
//nolint:ireturn // the concrete client type depends on the configured topology.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	mode, opts, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch mode {
	case redisCluster:
		client = redis.NewClusterClient(opts.Cluster())
	case redisSentinel:
		client = redis.NewFailoverClient(opts.Failover())
	default:
		client = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, closeAfter(fmt.Errorf("ping redis: %w", err), client.Close)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "mode", mode.String(), "addrs", strings.Join(opts.Addrs, ","), "master", opts.MasterName)
	}
	return client, nil
}

// redisOptions normalises the three topologies into one options value. URIs may be plain
// host:port or redis:// and rediss:// URLs; URL credentials and TLS override the separate fields.
func redisOptions(cfg config.RedisConfig) (redisMode, *redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{Password: cfg.Password, DB: cfg.DB}

	switch {
	case cfg.UseCluster:
		opts.Addrs = nonEmpty(cfg.ClusterNodes)
		if len(opts.Addrs) == 0 {
			if err := mergeRedisURI(opts, cfg.URI); err != nil {
				return 0, nil, fmt.Errorf("parse redis cluster url: %w", err)
			}
		}
		if len(opts.Addrs) == 0 {
			return 0, nil, errors.New("redis cluster configuration requires at least one address")
		}
		opts.DB = 0
		return redisCluster, opts, nil

	case cfg.UseSentinel:
		opts.Addrs = nonEmpty(cfg.SentinelNodes)
		if len(opts.Addrs) == 0 {
			return 0, nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		opts.MasterName = cfg.SentinelMasterName
		opts.SentinelPassword = cfg.SentinelPassword
		return redisSentinel, opts, nil

	default:
		if strings.TrimSpace(cfg.URI) == "" {
			return 0, nil, errors.New("redis direct configuration requires a URI")
		}
		if err := mergeRedisURI(opts, cfg.URI); err != nil {
			return 0, nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redisDirect, opts, nil
	}
}

func mergeRedisURI(opts *redis.UniversalOptions, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		opts.Addrs = []string{uri}
		return nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return err
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	if u, uerr := url.Parse(uri); uerr == nil && strings.Trim(u.Path, "/") != "" {
		opts.DB = parsed.DB
	}
	opts.TLSConfig = parsed.TLSConfig
	return nil
}

func nonEmpty(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.RunWithLogger(ctx, db, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
