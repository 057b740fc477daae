package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/halvard/knightshift/internal/session"
)

// ErrNotFound marks a missing record or memory entry.
var ErrNotFound = errors.New("not found")

const (
	recordTTL   = 14 * 24 * time.Hour
	memoryTTL   = 30 * 24 * time.Hour
	keyPrefix   = "knightshift"
	maxIndexLen = 200
)

// GameRecord is the persisted summary of one finished game.
type GameRecord struct {
	ID          string         `json:"id"`
	GameID      string         `json:"game_id"`
	Opponent    string         `json:"opponent"`
	Color       session.Color  `json:"color"`
	Status      session.Status `json:"status"`
	Reason      session.Reason `json:"reason"`
	MovesUCI    []string       `json:"moves_uci"`
	MovesSAN    []string       `json:"moves_san"`
	TimeControl string         `json:"time_control,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
}

// Store keeps game records and per-opponent memory in Redis. Opponent memory
// feeds the challenger: the last result against each opponent and the set of
// opponents already beaten.
type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func recordKey(id string) string    { return keyPrefix + ":record:" + id }
func indexKey() string              { return keyPrefix + ":records" }
func lastResultKey(o string) string { return keyPrefix + ":memory:last:" + strings.ToLower(o) }
func conqueredKey() string          { return keyPrefix + ":memory:conquered" }

// SaveRecord persists one finished game and indexes it, newest first.
func (s *Store) SaveRecord(ctx context.Context, rec *GameRecord) error {
	if rec == nil {
		return nil
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(rec.ID), raw, recordTTL)
	pipe.LPush(ctx, indexKey(), rec.ID)
	pipe.LTrim(ctx, indexKey(), 0, maxIndexLen-1)
	pipe.Expire(ctx, indexKey(), recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Record loads one record by id.
func (s *Store) Record(ctx context.Context, id string) (*GameRecord, error) {
	raw, err := s.rdb.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// RecentRecords returns up to limit newest records.
func (s *Store) RecentRecords(ctx context.Context, limit int) ([]*GameRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.rdb.LRange(ctx, indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*GameRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Record(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // record expired out from under the index
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SetLastResult remembers how the most recent game against an opponent ended.
func (s *Store) SetLastResult(ctx context.Context, opponent string, status session.Status) error {
	if strings.TrimSpace(opponent) == "" {
		return nil
	}
	return s.rdb.Set(ctx, lastResultKey(opponent), string(status), memoryTTL).Err()
}

// LastResult returns the remembered result against an opponent.
func (s *Store) LastResult(ctx context.Context, opponent string) (session.Status, error) {
	raw, err := s.rdb.Get(ctx, lastResultKey(opponent)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return session.Status(raw), nil
}

// MarkConquered adds an opponent to the beaten set.
func (s *Store) MarkConquered(ctx context.Context, opponent string) error {
	if strings.TrimSpace(opponent) == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, conqueredKey(), strings.ToLower(opponent))
	pipe.Expire(ctx, conqueredKey(), memoryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Conquered reports whether an opponent has been beaten before.
func (s *Store) Conquered(ctx context.Context, opponent string) (bool, error) {
	return s.rdb.SIsMember(ctx, conqueredKey(), strings.ToLower(opponent)).Result()
}

// RecordOutcome updates opponent memory from one finished game: the last
// result is always refreshed, and a win marks the opponent conquered.
func (s *Store) RecordOutcome(ctx context.Context, opponent string, status session.Status) error {
	if err := s.SetLastResult(ctx, opponent, status); err != nil {
		return err
	}
	if status == session.StatusWin {
		return s.MarkConquered(ctx, opponent)
	}
	return nil
}
