package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore хранит сессии в Redis, чтобы диалоги переживали перезапуск бота.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore создает хранилище поверх готового клиента.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "foreman:session:", ttl: ttl}
}

// Ping проверяет соединение.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) key(k Key) string { return r.prefix + k.String() }

// Load возвращает сессию или ErrNoSession.
func (r *RedisStore) Load(ctx context.Context, key Key) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сессии из Redis: %w", err)
	}
	return decode(data)
}

// Save сохраняет сессию с продлением срока жизни.
func (r *RedisStore) Save(ctx context.Context, key Key, s *Session) error {
	s.UpdatedAt = time.Now()
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи сессии в Redis: %w", err)
	}
	return nil
}

// Delete удаляет сессию.
func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("ошибка удаления сессии из Redis: %w", err)
	}
	return nil
}
