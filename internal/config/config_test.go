package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

var envMu sync.Mutex

const testPostgresURL = "postgres://u:p@localhost:5432/db?sslmode=disable"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_URL", testPostgresURL)
	t.Setenv("SENDBLUE_API_KEY", "key-id")
	t.Setenv("SENDBLUE_API_SECRET", "secret")
}

func TestLoadAll_HappyPath_Defaults(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	setRequiredEnv(t)

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if cfg.Database.Backend != BackendPostgres {
		t.Fatalf("unexpected Backend default: %q", cfg.Database.Backend)
	}
	if cfg.Database.PostgresURL != testPostgresURL {
		t.Fatalf("unexpected PostgresURL: %q", cfg.Database.PostgresURL)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected Server.Address default: %q", cfg.Server.Address)
	}
	if cfg.Sendblue.APIKey != "key-id" || cfg.Sendblue.APISecret != "secret" {
		t.Fatalf("unexpected Sendblue credentials: %+v", cfg.Sendblue)
	}
	if cfg.Sendblue.FromNumber != "+14152005823" {
		t.Fatalf("unexpected FromNumber default: %q", cfg.Sendblue.FromNumber)
	}
	if cfg.Sendblue.Timeout != 10*time.Second {
		t.Fatalf("unexpected Sendblue.Timeout default: %v", cfg.Sendblue.Timeout)
	}
	if cfg.Sendblue.WebhookSecret != "" {
		t.Fatalf("expected webhook secret disabled by default")
	}
	if cfg.Workflow.SenderName != "Someone" {
		t.Fatalf("unexpected SenderName default: %q", cfg.Workflow.SenderName)
	}
	if cfg.Workflow.MaxAttempts != 3 || cfg.Workflow.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected Workflow defaults: %+v", cfg.Workflow)
	}
	if cfg.Sweeper.Interval != 300*time.Second {
		t.Fatalf("unexpected Sweeper.Interval default: %v", cfg.Sweeper.Interval)
	}
	if cfg.Sweeper.BatchSize != 20 {
		t.Fatalf("unexpected Sweeper.BatchSize default: %d", cfg.Sweeper.BatchSize)
	}
	if cfg.Sweeper.MinAge != 120*time.Second || !cfg.Sweeper.AutoStart {
		t.Fatalf("unexpected Sweeper defaults: %+v", cfg.Sweeper)
	}
	if cfg.AWS.Region != "us-east-1" {
		t.Fatalf("unexpected AWS.Region default: %q", cfg.AWS.Region)
	}
	if cfg.Storage.Enabled {
		t.Fatalf("expected image storage disabled when IMAGE_BUCKET not set")
	}
	if cfg.Redis.Enabled {
		t.Fatalf("expected Redis disabled when REDIS_ADDR not set")
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unexpected Log.Level default: %q", cfg.Log.Level)
	}
}

func TestLoadAll_HappyPath_WithRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	setRequiredEnv(t)

	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TTL_SECONDS", "42")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if !cfg.Redis.Enabled {
		t.Fatalf("expected Redis enabled")
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Fatalf("unexpected Redis.Address: %q", cfg.Redis.Address)
	}
	if cfg.Redis.Password != "secret" {
		t.Fatalf("unexpected Redis.Password: %q", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("unexpected Redis.DB: %d", cfg.Redis.DB)
	}
	if cfg.Redis.TTL != 42*time.Second {
		t.Fatalf("unexpected Redis.TTL: %v", cfg.Redis.TTL)
	}
}

func TestLoadAll_DynamoBackend(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	t.Setenv("SENDBLUE_API_KEY", "k")
	t.Setenv("SENDBLUE_API_SECRET", "s")
	t.Setenv("STORE_BACKEND", "DynamoDB")
	t.Setenv("DYNAMO_TABLE", "postcards")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("AWS_ENDPOINT_URL", "http://localhost:4566")
	t.Setenv("IMAGE_BUCKET", "postcard-images")
	t.Setenv("IMAGE_PUBLIC_BASE_URL", "https://cdn.example.com/")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if cfg.Database.Backend != BackendDynamo || cfg.Dynamo.Table != "postcards" {
		t.Fatalf("unexpected dynamo config: %+v %+v", cfg.Database, cfg.Dynamo)
	}
	if cfg.AWS.Region != "us-west-2" || cfg.AWS.EndpointURL != "http://localhost:4566" {
		t.Fatalf("unexpected AWS config: %+v", cfg.AWS)
	}
	if !cfg.Storage.Enabled || cfg.Storage.PublicBaseURL != "https://cdn.example.com" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
}

func TestLoadAll_MemoryBackendNeedsNoDatabase(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	t.Setenv("SENDBLUE_API_KEY", "k")
	t.Setenv("SENDBLUE_API_SECRET", "s")
	t.Setenv("STORE_BACKEND", "memory")

	if _, err := LoadAll(); err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
}

func TestLoadAll_RequiredEnvMissing(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name  string
		unset string
		extra map[string]string
	}{
		{name: "missing POSTGRES_URL", unset: "POSTGRES_URL"},
		{name: "missing SENDBLUE_API_KEY", unset: "SENDBLUE_API_KEY"},
		{name: "missing SENDBLUE_API_SECRET", unset: "SENDBLUE_API_SECRET"},
		{name: "missing DYNAMO_TABLE", unset: "DYNAMO_TABLE", extra: map[string]string{"STORE_BACKEND": "dynamodb"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			setRequiredEnv(t)
			for k, v := range tc.extra {
				t.Setenv(k, v)
			}
			_ = os.Unsetenv(tc.unset)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.unset) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.unset, err)
			}
		})
	}
}

func TestLoadAll_ReportsAllProblemsAtOnce(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	t.Setenv("SWEEP_BATCH_SIZE", "x")

	_, err := LoadAll()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	for _, want := range []string{"SENDBLUE_API_KEY", "SENDBLUE_API_SECRET", "POSTGRES_URL", "SWEEP_BATCH_SIZE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %s, got: %v", want, err)
		}
	}
}

func TestLoadAll_UnknownBackend(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	setRequiredEnv(t)
	t.Setenv("STORE_BACKEND", "mongo")

	_, err := LoadAll()
	if err == nil || !strings.Contains(err.Error(), "STORE_BACKEND") {
		t.Fatalf("expected STORE_BACKEND error, got: %v", err)
	}
}

func TestLoadAll_InvalidValues(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"invalid SWEEP_INTERVAL_SECONDS", "SWEEP_INTERVAL_SECONDS", "nope"},
		{"invalid SWEEP_BATCH_SIZE", "SWEEP_BATCH_SIZE", "x"},
		{"invalid SWEEP_AUTOSTART", "SWEEP_AUTOSTART", "sometimes"},
		{"invalid SEND_MAX_ATTEMPTS", "SEND_MAX_ATTEMPTS", "many"},
		{"invalid SENDBLUE_TIMEOUT_SECONDS", "SENDBLUE_TIMEOUT_SECONDS", "10s"},
		{"invalid REDIS_DB", "REDIS_DB", "bad"},
		{"invalid REDIS_TTL_SECONDS", "REDIS_TTL_SECONDS", "bad"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			setRequiredEnv(t)

			// Enable redis only for redis-related invalid ints.
			if strings.HasPrefix(tc.key, "REDIS_") {
				t.Setenv("REDIS_ADDR", "localhost:6379")
			}

			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.key, err)
			}
		})
	}
}

func TestLoadAll_ValidationFailures(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"batch size <= 0", "SWEEP_BATCH_SIZE", "0"},
		{"interval <= 0", "SWEEP_INTERVAL_SECONDS", "0"},
		{"min age < 0", "SWEEP_MIN_AGE_SECONDS", "-1"},
		{"max attempts <= 0", "SEND_MAX_ATTEMPTS", "0"},
		{"backoff < 0", "SEND_RETRY_BACKOFF_MS", "-5"},
		{"timeout <= 0", "SENDBLUE_TIMEOUT_SECONDS", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.key, err)
			}
		})
	}
}

func TestLoadPostgres(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	if _, err := LoadPostgres(); err == nil || !strings.Contains(err.Error(), "POSTGRES_URL") {
		t.Fatalf("expected missing POSTGRES_URL error, got %v", err)
	}

	// Sendblue credentials are not needed to migrate.
	t.Setenv("POSTGRES_URL", "  "+testPostgresURL+" ")
	db, err := LoadPostgres()
	if err != nil {
		t.Fatalf("LoadPostgres() error: %v", err)
	}
	if db.PostgresURL != testPostgresURL || db.Backend != BackendPostgres {
		t.Fatalf("unexpected database config: %+v", db)
	}
}

func TestRequireEnv(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	if _, err := requireEnv("MISSING_KEY"); err == nil {
		t.Fatalf("expected error, got nil")
	}

	t.Setenv("FOO", "   ")
	if _, err := requireEnv("FOO"); err == nil {
		t.Fatalf("expected error for blank value, got nil")
	}

	t.Setenv("FOO", "bar")
	v, err := requireEnv("FOO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "bar" {
		t.Fatalf("expected %q, got %q", "bar", v)
	}
}

func TestGetEnv(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	if got := getEnv("NOPE", "default"); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("A", "x")
	if got := getEnv("A", "default"); got != "x" {
		t.Fatalf("expected x, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	got, err := getEnvInt("MISSING", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}

	t.Setenv("N", "123")
	got, err = getEnvInt("N", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}

	t.Setenv("BAD", "abc")
	_, err = getEnvInt("BAD", 7)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "BAD") {
		t.Fatalf("expected error mentioning BAD, got: %v", err)
	}
}

func TestGetEnvBool(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	got, err := getEnvBool("MISSING", true)
	if err != nil || !got {
		t.Fatalf("expected default true, got %v err=%v", got, err)
	}

	t.Setenv("A", "false")
	got, err = getEnvBool("A", true)
	if err != nil || got {
		t.Fatalf("expected false, got %v err=%v", got, err)
	}

	t.Setenv("BAD", "yes please")
	if _, err := getEnvBool("BAD", true); err == nil || !strings.Contains(err.Error(), "BAD") {
		t.Fatalf("expected error mentioning BAD, got: %v", err)
	}
}

func TestJoinErrors(t *testing.T) {
	if err := joinErrors(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	e1 := errors.New("one")
	e2 := errors.New("two")
	err := joinErrors([]error{e1, e2})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	if !errors.Is(err, e1) {
		t.Fatalf("expected errors.Is(err, e1) to be true")
	}
	if !errors.Is(err, e2) {
		t.Fatalf("expected errors.Is(err, e2) to be true")
	}
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_ADDRESS",
		"STORE_BACKEND",
		"POSTGRES_URL",
		"DYNAMO_TABLE",
		"AWS_REGION",
		"AWS_ENDPOINT_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"REDIS_TTL_SECONDS",
		"SENDBLUE_API_KEY",
		"SENDBLUE_API_SECRET",
		"SENDBLUE_FROM_NUMBER",
		"SENDBLUE_BASE_URL",
		"SENDBLUE_TIMEOUT_SECONDS",
		"SENDBLUE_WEBHOOK_SECRET",
		"SENDER_NAME",
		"SEND_MAX_ATTEMPTS",
		"SEND_RETRY_BACKOFF_MS",
		"SWEEP_INTERVAL_SECONDS",
		"SWEEP_BATCH_SIZE",
		"SWEEP_MIN_AGE_SECONDS",
		"SWEEP_AUTOSTART",
		"IMAGE_BUCKET",
		"IMAGE_PUBLIC_BASE_URL",
		"LOG_LEVEL",
		"FOO",
		"A",
		"N",
		"BAD",
	}
	for _, k := range keys {
		// Setenv first so the testing package restores the original value.
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}
