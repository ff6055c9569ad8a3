package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Dispatch DispatchConfig
}

type ServerConfig struct {
	Address  string
	APIToken string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type GatewayConfig struct {
	URL            string
	Token          string
	ReadyPollEvery time.Duration
}

type DispatchConfig struct {
	BaseInterval  time.Duration
	SlowInterval  time.Duration
	HighWater     time.Duration
	BatchSize     int
	SendTimeout   time.Duration
	MessageDelay  time.Duration
	CountryPrefix string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}
	gatewayURL, err := requireEnv("GATEWAY_URL")
	if err != nil {
		errs = append(errs, err)
	}

	baseMS, err := getEnvInt("DISPATCH_BASE_INTERVAL_MS", 10000)
	if err != nil {
		errs = append(errs, err)
	}
	slowMS, err := getEnvInt("DISPATCH_SLOW_INTERVAL_MS", 120000)
	if err != nil {
		errs = append(errs, err)
	}
	highWaterMS, err := getEnvInt("DISPATCH_HIGH_WATER_MS", 30000)
	if err != nil {
		errs = append(errs, err)
	}
	batchSize, err := getEnvInt("DISPATCH_BATCH_SIZE", 5)
	if err != nil {
		errs = append(errs, err)
	}
	sendTimeoutMS, err := getEnvInt("DISPATCH_SEND_TIMEOUT_MS", 30000)
	if err != nil {
		errs = append(errs, err)
	}
	messageDelayMS, err := getEnvInt("DISPATCH_MESSAGE_DELAY_MS", 1500)
	if err != nil {
		errs = append(errs, err)
	}
	readyPollMS, err := getEnvInt("GATEWAY_READY_POLL_MS", 5000)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:  getEnv("SERVER_ADDRESS", ":8080"),
			APIToken: os.Getenv("API_TOKEN"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Gateway: GatewayConfig{
			URL:            gatewayURL,
			Token:          os.Getenv("GATEWAY_TOKEN"),
			ReadyPollEvery: time.Duration(readyPollMS) * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			BaseInterval:  time.Duration(baseMS) * time.Millisecond,
			SlowInterval:  time.Duration(slowMS) * time.Millisecond,
			HighWater:     time.Duration(highWaterMS) * time.Millisecond,
			BatchSize:     batchSize,
			SendTimeout:   time.Duration(sendTimeoutMS) * time.Millisecond,
			MessageDelay:  time.Duration(messageDelayMS) * time.Millisecond,
			CountryPrefix: getEnv("COUNTRY_PREFIX", "90"),
		},
		Redis: redisCfg,
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.BaseInterval < time.Second {
		errs = append(errs, errors.New("DISPATCH_BASE_INTERVAL_MS must be >= 1000"))
	}
	if cfg.Dispatch.SlowInterval < cfg.Dispatch.BaseInterval {
		errs = append(errs, errors.New("DISPATCH_SLOW_INTERVAL_MS must be >= DISPATCH_BASE_INTERVAL_MS"))
	}
	if cfg.Dispatch.SendTimeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_SEND_TIMEOUT_MS must be > 0"))
	}
	if cfg.Dispatch.MessageDelay < 0 {
		errs = append(errs, errors.New("DISPATCH_MESSAGE_DELAY_MS must be >= 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}
