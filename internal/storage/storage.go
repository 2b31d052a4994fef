package storage

import (
	"log"

	"deepresearch/config"
	"deepresearch/internal/research"
)

// NewStorage picks the best available backend: Postgres when
// configured, then Redis, then in-memory. Backend init failures fall
// through with a warning instead of refusing to start.
func NewStorage(cfg config.StorageConfig, historyLimit int, logger *log.Logger) research.Storage {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORAGE] ", log.LstdFlags)
	}
	if cfg.Postgres.DSN() != "" {
		ps, err := NewPostgresStorage(cfg.Postgres, historyLimit)
		if err == nil {
			logger.Printf("using postgres storage")
			return ps
		}
		logger.Printf("postgres storage init failed: %v, falling back to redis", err)
	}
	if cfg.Redis.Host != "" {
		rs, err := NewRedisStorage(cfg.Redis, historyLimit)
		if err == nil {
			logger.Printf("using redis storage")
			return rs
		}
		logger.Printf("redis storage init failed: %v, falling back to memory", err)
	}
	logger.Printf("using in-memory storage (sessions are lost on restart)")
	return NewMemoryStorage(historyLimit)
}
