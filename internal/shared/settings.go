package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// DefaultTaxRate is the tax percentage applied when no tax_rate setting exists.
const DefaultTaxRate = 10.0

// ErrSettingNotFound indicates the key is absent from the settings store.
var ErrSettingNotFound = errors.New("setting not found")

// SettingsSource looks up a raw setting value from durable storage.
type SettingsSource interface {
	Lookup(ctx context.Context, key string) (string, error)
}

// PGSettingsSource reads settings from the settings table.
type PGSettingsSource struct {
	pool *pgxpool.Pool
}

// NewPGSettingsSource constructs a PostgreSQL-backed source.
func NewPGSettingsSource(pool *pgxpool.Pool) *PGSettingsSource {
	return &PGSettingsSource{pool: pool}
}

// Lookup fetches one setting value.
func (s *PGSettingsSource) Lookup(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return value, nil
}

// Settings is a read-through cached view over a SettingsSource. Cache misses
// and Redis failures fall back to the source so a cache outage never blocks a
// workflow.
type Settings struct {
	source SettingsSource
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSettings constructs the cached settings store. cache may be nil.
func NewSettings(source SettingsSource, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Settings {
	return &Settings{source: source, cache: cache, ttl: ttl, logger: logger}
}

func settingCacheKey(key string) string {
	return fmt.Sprintf("settings:%s", key)
}

// Get returns the value for key, consulting the cache first.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	if s.cache != nil {
		val, err := s.cache.Get(ctx, settingCacheKey(key)).Result()
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, redis.Nil) && s.logger != nil {
			s.logger.Warn("settings cache read", slog.String("key", key), slog.Any("error", err))
		}
	}

	val, err := s.source.Lookup(ctx, key)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, settingCacheKey(key), val, s.ttl).Err(); err != nil && s.logger != nil {
			s.logger.Warn("settings cache write", slog.String("key", key), slog.Any("error", err))
		}
	}
	return val, nil
}

// TaxRate returns the configured tax percentage, defaulting to 10 when the
// setting is missing or unparseable.
func (s *Settings) TaxRate(ctx context.Context) float64 {
	raw, err := s.Get(ctx, "tax_rate")
	if err != nil {
		if !errors.Is(err, ErrSettingNotFound) && s.logger != nil {
			s.logger.Warn("tax rate lookup", slog.Any("error", err))
		}
		return DefaultTaxRate
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate < 0 {
		if s.logger != nil {
			s.logger.Warn("tax rate malformed", slog.String("value", raw))
		}
		return DefaultTaxRate
	}
	return rate
}
