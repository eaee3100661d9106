package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

type RedisConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Password  string `json:"password"`
	Namespace string `json:"namespace"`
}

type RedisSentinelConfig struct {
	SentinelHost     string `json:"sentinel_host"`
	SentinelPort     int    `json:"sentinel_port"`
	Password         string `json:"password"`
	MasterName       string `json:"master_name"`
	SentinelUsername string `json:"sentinel_username"`
	Namespace        string `json:"namespace"`
}

// NewRedisClient connects to a single redis node and pings it before
// returning the client.
func NewRedisClient(config *RedisConfig) (*redis.Client, error) {
	if config.Host == "" || config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("failed to connect to Redis: invalid address %q:%d", config.Host, config.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:    config.Password,
		DB:          0,
		DialTimeout: connectTimeout,
	})
	if err := ping(client); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to redis", "host", config.Host, "port", config.Port)
	return client, nil
}

// NewRedisSentinelClient resolves the master through a sentinel and pings it.
func NewRedisSentinelClient(config *RedisSentinelConfig) (*redis.Client, error) {
	if config.MasterName == "" {
		return nil, errors.New("failed to connect to Redis through Sentinel: master name is required")
	}
	if config.SentinelHost == "" || config.SentinelPort <= 0 || config.SentinelPort > 65535 {
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: invalid address %q:%d", config.SentinelHost, config.SentinelPort)
	}

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       config.MasterName,
		SentinelAddrs:    []string{fmt.Sprintf("%s:%d", config.SentinelHost, config.SentinelPort)},
		SentinelUsername: config.SentinelUsername,
		SentinelPassword: config.Password,
		Password:         config.Password,
		DB:               0,
		DialTimeout:      connectTimeout,
	})
	if err := ping(client); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: %w", err)
	}

	slog.Info("Connected to redis through sentinel", "master", config.MasterName)
	return client, nil
}

func ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	return nil
}
