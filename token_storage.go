package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTokenNotFound = errors.New("token not found")

const Timeout time.Duration = 24 * time.Hour

// Should be safe to use in concurrency
type TokenStorage interface {
	// Store the nonce for the given liveness session, overwriting an
	// existing one.
	StoreToken(sessionId string, nonce string) error

	// Retrieve the nonce for the given session. A missing session is
	// reported as ErrTokenNotFound.
	RetrieveToken(sessionId string) (string, error)

	// Remove the nonce. The value not being there is also an error.
	RemoveToken(sessionId string) error
}

type InMemoryTokenStorage struct {
	TokenMap map[string]string
	mutex    sync.Mutex
}

func NewInMemoryTokenStorage() *InMemoryTokenStorage {
	return &InMemoryTokenStorage{
		TokenMap: make(map[string]string),
	}
}

func (s *InMemoryTokenStorage) StoreToken(sessionId, token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.TokenMap[sessionId] = token
	return nil
}

func (s *InMemoryTokenStorage) RetrieveToken(sessionId string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	token, ok := s.TokenMap[sessionId]
	if !ok {
		return "", fmt.Errorf("%w for session %s", ErrTokenNotFound, sessionId)
	}
	return token, nil
}

func (s *InMemoryTokenStorage) RemoveToken(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.TokenMap[sessionId]; !ok {
		return fmt.Errorf("failed to remove token for %s: %w", sessionId, ErrTokenNotFound)
	}
	delete(s.TokenMap, sessionId)
	return nil
}

// ------------------------------------------------------------------------------

type RedisTokenStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisTokenStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisTokenStorage {
	if ttl <= 0 {
		ttl = Timeout
	}
	return &RedisTokenStorage{client: client, namespace: namespace, ttl: ttl}
}

func createKey(namespace, kind, sessionId string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, kind, sessionId)
}

func (s *RedisTokenStorage) StoreToken(sessionId string, nonce string) error {
	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, "token", sessionId), nonce, s.ttl).Err()
}

func (s *RedisTokenStorage) RetrieveToken(sessionId string) (string, error) {
	ctx := context.Background()
	nonce, err := s.client.Get(ctx, createKey(s.namespace, "token", sessionId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w for session %s", ErrTokenNotFound, sessionId)
	}
	return nonce, err
}

func (s *RedisTokenStorage) RemoveToken(sessionId string) error {
	ctx := context.Background()
	removed, err := s.client.Del(ctx, createKey(s.namespace, "token", sessionId)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("failed to remove token for %s: %w", sessionId, ErrTokenNotFound)
	}
	return nil
}
