package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"

	"go-liveness-issuer/images"
	"go-liveness-issuer/liveness"
	"go-liveness-issuer/logging"
	redis "go-liveness-issuer/redis"

	goredis "github.com/redis/go-redis/v9"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`
	LogLevel     string       `json:"log_level"`

	JwtPrivateKeyPath  string `json:"jwt_private_key_path"`
	IrmaServerUrl      string `json:"irma_server_url"`
	IssuerId           string `json:"issuer_id"`
	LivenessCredential string `json:"liveness_credential"`
	SdJwtBatchSize     uint   `json:"sd_jwt_batch_size"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`

	Liveness          liveness.Config `json:"liveness"`
	MaxSessions       int             `json:"max_sessions"`
	SessionTtlMinutes int             `json:"session_ttl_minutes"`
	FrameMaxDimension int             `json:"frame_max_dimension"`
}

func (c Config) SessionTtl() time.Duration {
	return time.Duration(c.SessionTtlMinutes) * time.Minute
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		fatal("please provide a config path using the --config flag", nil)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		fatal("failed to read config file", err)
	}
	logging.InitLogger(config.LogLevel)
	slog.Info("Using config", "path", *configPath, "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	jwtCreator, err := NewIrmaJwtCreator(
		config.JwtPrivateKeyPath,
		config.IssuerId,
		config.LivenessCredential,
		config.SdJwtBatchSize,
	)
	if err != nil {
		fatal("failed to instantiate jwt creator", err)
	}

	tokenStorage, frameStorage, err := createStorage(&config)
	if err != nil {
		fatal("failed to instantiate storage", err)
	}

	sessions, err := NewSessionRegistry(config.Liveness, config.MaxSessions, config.SessionTtl())
	if err != nil {
		fatal("invalid liveness configuration", err)
	}

	serverState := ServerState{
		irmaServerURL: config.IrmaServerUrl,
		tokenStorage:  tokenStorage,
		frameStorage:  frameStorage,
		sessions:      sessions,
		jwtCreator:    jwtCreator,
		frameOptions: images.EncodeOptions{
			MaxDimension: config.FrameMaxDimension,
			Colors:       256,
			Compression:  png.BestCompression,
		},
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		fatal("failed to create server", err)
	}

	if err := server.ListenAndServe(); err != nil {
		fatal("failed to listen and serve", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// readConfigFile decodes the config on top of the defaults, so a config
// file only has to name the liveness options it changes.
func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	config := Config{
		LogLevel:          "info",
		StorageType:       "memory",
		Liveness:          liveness.DefaultConfig(),
		MaxSessions:       1000,
		SessionTtlMinutes: 30,
		FrameMaxDimension: 400,
	}
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	if err := config.Liveness.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func createStorage(config *Config) (TokenStorage, FrameStorage, error) {
	var client *goredis.Client
	var namespace string
	var err error

	switch config.StorageType {
	case "redis":
		slog.Info("Using redis storage")
		client, err = redis.NewRedisClient(&config.RedisConfig)
		namespace = config.RedisConfig.Namespace
	case "redis_sentinel":
		slog.Info("Using redis sentinel storage")
		client, err = redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		namespace = config.RedisSentinelConfig.Namespace
	case "memory":
		slog.Info("Using in memory storage")
		return NewInMemoryTokenStorage(), NewInMemoryFrameStorage(), nil
	default:
		return nil, nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
	}
	if err != nil {
		return nil, nil, err
	}

	ttl := config.SessionTtl()
	return NewRedisTokenStorage(client, namespace, ttl), NewRedisFrameStorage(client, namespace, ttl), nil
}
