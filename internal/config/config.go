package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
	Raffle    RaffleConfig
	Coins     CoinsConfig
	LogLevel  string
	LogPretty bool
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Mode         string // gin mode: debug, release, test
	AllowedHosts []string
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// JWTConfig holds JWT-specific configuration
type JWTConfig struct {
	Secret    string
	ExpiresIn int // seconds
}

// RedisConfig holds the Redis connection used for purchase idempotency.
// An empty Addr disables idempotency replay.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// KafkaConfig holds the domain event producer settings.
// No brokers means events are dropped.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// StorageConfig holds the S3-compatible bucket used for raffle images
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	MaxImageBytes   int64
}

// SchedulerConfig controls the background open/draw jobs
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// RaffleConfig holds raffle engine tuning
type RaffleConfig struct {
	MaxQuantityPerPurchase int64
	RefundConcurrency      int
	DrawAttempts           int
	SettleWait             time.Duration
	// BackoutTimeout bounds compensating writes that run after the request is gone
	BackoutTimeout time.Duration
}

// CoinsConfig holds coin economy settings
type CoinsConfig struct {
	SignupBonus int64
}

// Load loads configuration from .env, an optional config file and environment variables.
// Environment keys use underscores for nesting, e.g. MONGODB_URI or RAFFLE_DRAWATTEMPTS.
func Load(paths ...string) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read configuration
	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file is not found, we'll use environment variables
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Unmarshal configuration
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.MongoDB.URI == "" {
		return errors.New("MONGODB_URI is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Raffle.MaxQuantityPerPurchase < 1 {
		return errors.New("RAFFLE_MAXQUANTITYPERPURCHASE must be at least 1")
	}
	if c.Raffle.RefundConcurrency < 1 {
		return errors.New("RAFFLE_REFUNDCONCURRENCY must be at least 1")
	}
	if c.Raffle.DrawAttempts < 1 {
		return errors.New("RAFFLE_DRAWATTEMPTS must be at least 1")
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "4000")
	v.SetDefault("Server.Mode", "release")
	v.SetDefault("Server.AllowedHosts", []string{"localhost:3000"})
	v.SetDefault("MongoDB.URI", "mongodb://localhost:27017")
	v.SetDefault("MongoDB.Database", "diehard-raffles")
	v.SetDefault("JWT.Secret", "")
	v.SetDefault("JWT.ExpiresIn", 24*60*60) // 24 hours
	v.SetDefault("Redis.Addr", "")
	v.SetDefault("Redis.Password", "")
	v.SetDefault("Redis.DB", 0)
	v.SetDefault("Redis.IdempotencyTTL", 24*time.Hour)
	v.SetDefault("Kafka.Brokers", []string{})
	v.SetDefault("Kafka.Topic", "raffle-events")
	v.SetDefault("Storage.Endpoint", "")
	v.SetDefault("Storage.Region", "auto")
	v.SetDefault("Storage.Bucket", "")
	v.SetDefault("Storage.AccessKeyID", "")
	v.SetDefault("Storage.SecretAccessKey", "")
	v.SetDefault("Storage.PublicBaseURL", "")
	v.SetDefault("Storage.MaxImageBytes", 5<<20)
	v.SetDefault("Scheduler.Enabled", true)
	v.SetDefault("Scheduler.Interval", time.Minute)
	v.SetDefault("Raffle.MaxQuantityPerPurchase", 100)
	v.SetDefault("Raffle.RefundConcurrency", 4)
	v.SetDefault("Raffle.DrawAttempts", 5)
	v.SetDefault("Raffle.SettleWait", 200*time.Millisecond)
	v.SetDefault("Raffle.BackoutTimeout", 10*time.Second)
	v.SetDefault("Coins.SignupBonus", 0)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogPretty", false)
}
