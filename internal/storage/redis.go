package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"deepresearch/config"
	"deepresearch/internal/research"
)

const (
	sessionKeyPrefix = "research:session:"
	pagesKeyPrefix   = "research:pages:"
	historyKey       = "research:history"
)

// RedisStorage persists sessions as JSON values and keeps the bounded
// history as a list: LPUSH for prepend, LTRIM for the cap.
type RedisStorage struct {
	client       *redis.Client
	historyLimit int
}

func NewRedisStorage(cfg config.RedisConfig, historyLimit int) (*RedisStorage, error) {
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", client.Options().Addr, err)
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &RedisStorage{client: client, historyLimit: historyLimit}, nil
}

func (s *RedisStorage) SaveSession(ctx context.Context, sess *research.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, sessionKeyPrefix+sess.ID, b, 0).Err()
}

func (s *RedisStorage) SavePage(ctx context.Context, sessionID string, p research.PageRecord) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal page record: %w", err)
	}
	return s.client.RPush(ctx, pagesKeyPrefix+sessionID, b).Err()
}

func (s *RedisStorage) SaveFinalAnswer(ctx context.Context, sessionID, answer, summary string, confidence float64) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.FinalAnswer = answer
	sess.Summary = summary
	sess.Confidence = confidence
	return s.SaveSession(ctx, sess)
}

func (s *RedisStorage) AppendHistory(ctx context.Context, sess *research.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, historyKey, b)
	pipe.LTrim(ctx, historyKey, 0, int64(s.historyLimit-1))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStorage) GetSession(ctx context.Context, id string) (*research.Session, error) {
	b, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	var sess research.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStorage) History(ctx context.Context, limit int) ([]*research.Session, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	raw, err := s.client.LRange(ctx, historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*research.Session, 0, len(raw))
	for _, item := range raw {
		var sess research.Session
		if err := json.Unmarshal([]byte(item), &sess); err != nil {
			return nil, fmt.Errorf("unmarshal history snapshot: %w", err)
		}
		out = append(out, &sess)
	}
	return out, nil
}

// Close releases the redis client.
func (s *RedisStorage) Close() error { return s.client.Close() }
