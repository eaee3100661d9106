package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrFrameNotFound = errors.New("frame not found")

// FrameStorage keeps the accepted selfie of a completed liveness session
// until the credential is issued. Frames are normalised PNG bytes.
type FrameStorage interface {
	StoreFrame(sessionId string, frame []byte) error
	RetrieveFrame(sessionId string) ([]byte, error)
	RemoveFrame(sessionId string) error
}

type InMemoryFrameStorage struct {
	frames map[string][]byte
	mutex  sync.Mutex
}

func NewInMemoryFrameStorage() *InMemoryFrameStorage {
	return &InMemoryFrameStorage{frames: make(map[string][]byte)}
}

func (s *InMemoryFrameStorage) StoreFrame(sessionId string, frame []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.frames[sessionId] = append([]byte(nil), frame...)
	return nil
}

func (s *InMemoryFrameStorage) RetrieveFrame(sessionId string) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	frame, ok := s.frames[sessionId]
	if !ok {
		return nil, fmt.Errorf("%w for session %s", ErrFrameNotFound, sessionId)
	}
	return append([]byte(nil), frame...), nil
}

// RemoveFrame is a no-op for sessions without a stored frame.
func (s *InMemoryFrameStorage) RemoveFrame(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.frames, sessionId)
	return nil
}

// ------------------------------------------------------------------------------

type RedisFrameStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisFrameStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisFrameStorage {
	if ttl <= 0 {
		ttl = Timeout
	}
	return &RedisFrameStorage{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisFrameStorage) StoreFrame(sessionId string, frame []byte) error {
	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, "frame", sessionId), frame, s.ttl).Err()
}

func (s *RedisFrameStorage) RetrieveFrame(sessionId string) ([]byte, error) {
	ctx := context.Background()
	frame, err := s.client.Get(ctx, createKey(s.namespace, "frame", sessionId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w for session %s", ErrFrameNotFound, sessionId)
	}
	return frame, err
}

func (s *RedisFrameStorage) RemoveFrame(sessionId string) error {
	ctx := context.Background()
	return s.client.Del(ctx, createKey(s.namespace, "frame", sessionId)).Err()
}
