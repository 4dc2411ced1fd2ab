package pgutil

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"MissionChat/tools/errs"
)

const (
	defaultMaxConns = 20
	defaultMaxRetry = 3
)

type Config struct {
	URL             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxRetry        int
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.URL == "" {
		return errs.New("postgres url is required")
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	return nil
}

// NewPool parses the config, opens the pool and pings it, retrying a few times.
func NewPool(ctx context.Context, c *Config) (*pgxpool.Pool, error) {
	if err := c.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	pcfg, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse postgres url")
	}
	pcfg.MaxConns = c.MaxConns
	pcfg.MaxConnLifetime = c.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "open postgres pool")
	}
	for i := 0; i < c.MaxRetry; i++ {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, errs.Wrap(ctx.Err())
		case <-time.After(time.Second / 2):
		}
	}
	pool.Close()
	return nil, errs.WrapMsg(err, "postgres ping failed", "host", pcfg.ConnConfig.Host)
}
