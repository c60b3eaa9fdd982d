// Package repo persists conversation transcripts. Transcripts are an audit
// trail, not routing input: the router reads state from the request, never
// from here.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olist-insight/server/internal/agent/model"
	errx "github.com/olist-insight/server/internal/core/error"
	logx "github.com/olist-insight/server/pkg/logger"
)

// TranscriptEntry is one recorded turn: the user message or the assistant
// answer, with the routing outcome attached on assistant entries.
type TranscriptEntry struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Intent    model.Intent `json:"intent,omitempty"`
	UsedTools []string     `json:"used_tools,omitempty"`
	At        time.Time    `json:"at"`
}

// TranscriptRepository records and replays per-conversation transcripts.
type TranscriptRepository interface {
	Append(ctx context.Context, conversationID string, entry TranscriptEntry) error
	Load(ctx context.Context, conversationID string) ([]TranscriptEntry, error)
	Clear(ctx context.Context, conversationID string) error
}

// RedisTranscriptRepository keeps each transcript in a capped Redis list with
// a TTL refreshed on every write.
type RedisTranscriptRepository struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	maxTurns int
}

func NewRedisTranscriptRepository(rdb redis.Cmdable, ttl time.Duration, maxTurns int) *RedisTranscriptRepository {
	return &RedisTranscriptRepository{rdb: rdb, ttl: ttl, maxTurns: maxTurns}
}

func (r *RedisTranscriptRepository) transcriptKey(conversationID string) string {
	return fmt.Sprintf("transcript:%s:turns", conversationID)
}

func (r *RedisTranscriptRepository) Append(ctx context.Context, conversationID string, entry TranscriptEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		logx.Error().Err(err).Str("conversationID", conversationID).Msg("failed to marshal transcript entry")
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	key := r.transcriptKey(conversationID)

	if err := r.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push transcript entry to redis")
		return errx.WrapRedis(err)
	}
	// keep only the newest turns
	if r.maxTurns > 0 {
		if err := r.rdb.LTrim(ctx, key, int64(-r.maxTurns), -1).Err(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to trim transcript")
			return errx.WrapRedis(err)
		}
	}
	// extend TTL on touch
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on transcript key")
		}
	}
	return nil
}

func (r *RedisTranscriptRepository) Load(ctx context.Context, conversationID string) ([]TranscriptEntry, error) {
	key := r.transcriptKey(conversationID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []TranscriptEntry{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load transcript from redis")
		return nil, errx.WrapRedis(err)
	}

	entries := make([]TranscriptEntry, 0, len(rows))
	for i, s := range rows {
		var e TranscriptEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			logx.Error().Err(err).Str("conversationID", conversationID).Int("index", i).Msg("failed to unmarshal transcript entry")
			return nil, fmt.Errorf("unmarshal transcript entry at index %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisTranscriptRepository) Clear(ctx context.Context, conversationID string) error {
	key := r.transcriptKey(conversationID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete transcript from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ TranscriptRepository = (*RedisTranscriptRepository)(nil)
