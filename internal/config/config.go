package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendPostgres = "postgres"
	BackendDynamo   = "dynamodb"
	BackendMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Dynamo   DynamoConfig
	AWS      AWSConfig
	Redis    RedisConfig
	Sendblue SendblueConfig
	Workflow WorkflowConfig
	Sweeper  SweeperConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Backend     string
	PostgresURL string
}

type DynamoConfig struct {
	Table string
}

type AWSConfig struct {
	Region      string
	EndpointURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SendblueConfig struct {
	APIKey        string
	APISecret     string
	FromNumber    string
	BaseURL       string
	Timeout       time.Duration
	WebhookSecret string
}

type WorkflowConfig struct {
	SenderName   string
	MaxAttempts  int
	RetryBackoff time.Duration
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	MinAge    time.Duration
	AutoStart bool
}

type StorageConfig struct {
	Enabled       bool
	Bucket        string
	PublicBaseURL string
}

type LogConfig struct {
	Level string
}

// LoadAll reads the whole configuration from the environment and reports
// every problem at once.
func LoadAll() (*Config, error) {
	var errs []error

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		collect(err)
		return v
	}
	seconds := func(key string, def int) time.Duration {
		return time.Duration(intVar(key, def)) * time.Second
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
			PostgresURL: os.Getenv("POSTGRES_URL"),
		},
		Dynamo: DynamoConfig{
			Table: os.Getenv("DYNAMO_TABLE"),
		},
		AWS: AWSConfig{
			Region:      getEnv("AWS_REGION", "us-east-1"),
			EndpointURL: os.Getenv("AWS_ENDPOINT_URL"),
		},
		Sendblue: SendblueConfig{
			FromNumber:    getEnv("SENDBLUE_FROM_NUMBER", "+14152005823"),
			BaseURL:       getEnv("SENDBLUE_BASE_URL", "https://api.sendblue.co/api"),
			Timeout:       seconds("SENDBLUE_TIMEOUT_SECONDS", 10),
			WebhookSecret: os.Getenv("SENDBLUE_WEBHOOK_SECRET"),
		},
		Workflow: WorkflowConfig{
			SenderName:   getEnv("SENDER_NAME", "Someone"),
			MaxAttempts:  intVar("SEND_MAX_ATTEMPTS", 3),
			RetryBackoff: time.Duration(intVar("SEND_RETRY_BACKOFF_MS", 250)) * time.Millisecond,
		},
		Sweeper: SweeperConfig{
			Interval:  seconds("SWEEP_INTERVAL_SECONDS", 300),
			BatchSize: intVar("SWEEP_BATCH_SIZE", 20),
			MinAge:    seconds("SWEEP_MIN_AGE_SECONDS", 120),
			AutoStart: boolVar("SWEEP_AUTOSTART", true),
		},
		Storage: StorageConfig{
			Bucket:        os.Getenv("IMAGE_BUCKET"),
			PublicBaseURL: strings.TrimRight(os.Getenv("IMAGE_PUBLIC_BASE_URL"), "/"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
	cfg.Storage.Enabled = cfg.Storage.Bucket != ""

	var err error
	cfg.Sendblue.APIKey, err = requireEnv("SENDBLUE_API_KEY")
	collect(err)
	cfg.Sendblue.APISecret, err = requireEnv("SENDBLUE_API_SECRET")
	collect(err)

	switch cfg.Database.Backend {
	case BackendPostgres:
		_, err := requireEnv("POSTGRES_URL")
		collect(err)
	case BackendDynamo:
		_, err := requireEnv("DYNAMO_TABLE")
		collect(err)
	case BackendMemory:
	default:
		collect(fmt.Errorf("STORE_BACKEND must be one of %s, %s, %s: got %q",
			BackendPostgres, BackendDynamo, BackendMemory, cfg.Database.Backend))
	}

	var redisErrs []error
	cfg.Redis, redisErrs = loadRedisConfig()
	errs = append(errs, redisErrs...)

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, []error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errs
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Sweeper.BatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be > 0"))
	}
	if cfg.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Sweeper.MinAge < 0 {
		errs = append(errs, errors.New("SWEEP_MIN_AGE_SECONDS must be >= 0"))
	}
	if cfg.Workflow.MaxAttempts <= 0 {
		errs = append(errs, errors.New("SEND_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Workflow.RetryBackoff < 0 {
		errs = append(errs, errors.New("SEND_RETRY_BACKOFF_MS must be >= 0"))
	}
	if cfg.Sendblue.Timeout <= 0 {
		errs = append(errs, errors.New("SENDBLUE_TIMEOUT_SECONDS must be > 0"))
	}
	return errs
}

// LoadPostgres reads only what schema migrations need.
func LoadPostgres() (DatabaseConfig, error) {
	url, err := requireEnv("POSTGRES_URL")
	if err != nil {
		return DatabaseConfig{}, err
	}
	return DatabaseConfig{Backend: BackendPostgres, PostgresURL: url}, nil
}

func requireEnv(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
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
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
