package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
)

// ErrStale is returned when a newer snapshot was published first
var ErrStale = errors.New("leaderboard snapshot is stale")

// Projection is a read model of the committed leaderboard. A sorted set
// holds attendant ids scored by rank and a hash holds each entry as JSON.
// Snapshots are written under temporary keys and swapped in with RENAME
// inside MULTI, so readers see either the old ranking or the new one.
type Projection struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewProjection connects to Redis
func NewProjection(cfg *config.RedisConfig, logger *slog.Logger) (*Projection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewProjectionFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewProjectionFromClient wraps an existing client
func NewProjectionFromClient(client *redis.Client, prefix string, logger *slog.Logger) *Projection {
	return &Projection{client: client, prefix: prefix, logger: logger}
}

// Close closes the Redis connection
func (p *Projection) Close() error {
	return p.client.Close()
}

// Ping checks Redis connectivity
func (p *Projection) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Projection) rankKey() string {
	return fmt.Sprintf("%s:leaderboard:ranks", p.prefix)
}

func (p *Projection) entriesKey() string {
	return fmt.Sprintf("%s:leaderboard:entries", p.prefix)
}

// versionKey holds the highest event id whose snapshot has been published
func (p *Projection) versionKey() string {
	return fmt.Sprintf("%s:leaderboard:version", p.prefix)
}

// OnCommit publishes the ranking produced by a committed pipeline run
func (p *Projection) OnCommit(ctx context.Context, events []domain.PipelineEvent, board []domain.LeaderboardEntry) {
	if board == nil {
		return
	}
	var version int64
	for _, e := range events {
		version = max(version, e.ID)
	}
	if err := p.Publish(ctx, board, version); err != nil && !errors.Is(err, ErrStale) {
		p.logger.Warn("publishing leaderboard to redis", "version", version, "error", err)
	}
}

// Publish replaces the projected ranking with board unless a snapshot with a
// higher version is already in place.
func (p *Projection) Publish(ctx context.Context, board []domain.LeaderboardEntry, version int64) error {
	return p.swap(ctx, board, func(current int64) (int64, bool) {
		return version, version > current
	})
}

// Rebuild reloads the whole ranking from load. The snapshot is dropped if
// any publish lands while it is being loaded.
func (p *Projection) Rebuild(ctx context.Context, load func(ctx context.Context) ([]domain.LeaderboardEntry, error)) error {
	before, err := p.version(ctx, p.client.Get)
	if err != nil {
		return err
	}
	board, err := load(ctx)
	if err != nil {
		return fmt.Errorf("loading leaderboard: %w", err)
	}
	return p.swap(ctx, board, func(current int64) (int64, bool) {
		return current, current == before
	})
}

func (p *Projection) version(ctx context.Context, get func(ctx context.Context, key string) *redis.StringCmd) (int64, error) {
	v, err := get(ctx, p.versionKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("reading projection version: %w", err)
	}
	return v, nil
}

// swap stages board under temporary keys and renames them into place when
// accept approves the version currently stored.
func (p *Projection) swap(ctx context.Context, board []domain.LeaderboardEntry, accept func(current int64) (int64, bool)) error {
	suffix := uuid.NewString()
	tmpRanks := p.rankKey() + ":tmp:" + suffix
	tmpEntries := p.entriesKey() + ":tmp:" + suffix

	if len(board) > 0 {
		members := make([]redis.Z, 0, len(board))
		fields := make(map[string]any, len(board))
		for _, e := range board {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding entry: %w", err)
			}
			members = append(members, redis.Z{Score: float64(e.Rank), Member: e.AttendantID})
			fields[e.AttendantID] = data
		}
		_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, tmpRanks, members...)
			pipe.HSet(ctx, tmpEntries, fields)
			return nil
		})
		if err != nil {
			p.client.Del(context.WithoutCancel(ctx), tmpRanks, tmpEntries)
			return fmt.Errorf("staging snapshot: %w", err)
		}
	}

	var stale bool
	err := p.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := p.version(ctx, tx.Get)
		if err != nil {
			return err
		}
		next, ok := accept(current)
		if !ok {
			stale = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(board) == 0 {
				pipe.Del(ctx, p.rankKey(), p.entriesKey())
			} else {
				pipe.Rename(ctx, tmpRanks, p.rankKey())
				pipe.Rename(ctx, tmpEntries, p.entriesKey())
			}
			pipe.Set(ctx, p.versionKey(), next, 0)
			return nil
		})
		return err
	}, p.versionKey())

	if stale || err != nil {
		p.client.Del(context.WithoutCancel(ctx), tmpRanks, tmpEntries)
	}
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return ErrStale
	case err != nil:
		return fmt.Errorf("swapping snapshot: %w", err)
	case stale:
		return ErrStale
	}
	return nil
}

// Top returns the best limit entries by rank. Both keys are read in one
// MULTI so the result always comes from a single snapshot.
func (p *Projection) Top(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		ids     *redis.StringSliceCmd
		entries *redis.MapStringStringCmd
	)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ids = pipe.ZRange(ctx, p.rankKey(), 0, int64(limit-1))
		entries = pipe.HGetAll(ctx, p.entriesKey())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}

	byID := entries.Val()
	out := make([]domain.LeaderboardEntry, 0, len(ids.Val()))
	for _, id := range ids.Val() {
		raw, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("entry %s missing from snapshot", id)
		}
		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decoding entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of ranked attendants in the projection
func (p *Projection) Count(ctx context.Context) (int64, error) {
	n, err := p.client.ZCard(ctx, p.rankKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("counting leaderboard: %w", err)
	}
	return n, nil
}
