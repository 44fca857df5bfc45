package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PAWCHAT"

const (
	MessageStorePostgres  = "postgres"
	MessageStoreCassandra = "cassandra"
	MessageStoreMemory    = "memory"
)

type Config struct {
	ServerAddr     string
	AllowedOrigins []string
	SigningKey     []byte
	DatabaseDSN    string
	// DatabaseTimeout bounds every Postgres call.
	DatabaseTimeout time.Duration
	RunMigrations   bool
	MessageStore    string
	Cassandra       CassandraConfig
	Redis           RedisConfig
	LogLevel        string
	LogPretty       bool
	UserCacheTTL    time.Duration
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NumConns       int
	Username       string
	Password       string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates the required settings and decodes the signing key.
func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:      serverAddr,
		AllowedOrigins:  allowedOrigins,
		SigningKey:      signingKey,
		DatabaseDSN:     databaseDSN,
		DatabaseTimeout: 5 * time.Second,
		MessageStore:    MessageStorePostgres,
		LogLevel:        "info",
		UserCacheTTL:    5 * time.Minute,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "localhost:8000")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable")
	v.SetDefault("database.timeout", 5*time.Second)
	v.SetDefault("database.migrate", true)
	v.SetDefault("message_store.driver", MessageStorePostgres)
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "pawchat")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.timeout", 3*time.Second)
	v.SetDefault("cassandra.connect_timeout", 5*time.Second)
	v.SetDefault("cassandra.num_conns", 2)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "pawchat:rooms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("users.cache_ttl", 5*time.Minute)
}

// Load reads configuration from an optional YAML file and PAWCHAT_* environment variables.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg, err := NewConfig(
		v.GetString("server.addr"),
		v.GetString("database.dsn"),
		v.GetString("auth.signing_key"),
		splitList(v.GetStringSlice("server.allowed_origins")),
	)
	if err != nil {
		return nil, err
	}

	cfg.DatabaseTimeout = v.GetDuration("database.timeout")
	cfg.RunMigrations = v.GetBool("database.migrate")
	cfg.MessageStore = strings.ToLower(v.GetString("message_store.driver"))
	cfg.Cassandra = CassandraConfig{
		Hosts:          splitList(v.GetStringSlice("cassandra.hosts")),
		Keyspace:       v.GetString("cassandra.keyspace"),
		Consistency:    v.GetString("cassandra.consistency"),
		Timeout:        v.GetDuration("cassandra.timeout"),
		ConnectTimeout: v.GetDuration("cassandra.connect_timeout"),
		NumConns:       v.GetInt("cassandra.num_conns"),
		Username:       v.GetString("cassandra.username"),
		Password:       v.GetString("cassandra.password"),
	}
	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("redis.enabled"),
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
		Channel:  v.GetString("redis.channel"),
	}
	cfg.LogLevel = v.GetString("log.level")
	cfg.LogPretty = v.GetBool("log.pretty")
	cfg.UserCacheTTL = v.GetDuration("users.cache_ttl")

	switch cfg.MessageStore {
	case MessageStorePostgres, MessageStoreCassandra, MessageStoreMemory:
	default:
		return nil, fmt.Errorf("unknown message store driver %q", cfg.MessageStore)
	}

	if cfg.MessageStore == MessageStoreCassandra && len(cfg.Cassandra.Hosts) == 0 {
		return nil, fmt.Errorf("cassandra hosts cannot be empty")
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	return cfg, nil
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
