package config

import (
	"strings"
	"testing"
	"time"
)

func localConfig() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
		Bot:  BotConfig{CallbackURL: "https://bot.example.com/api/calls/notifications"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := localConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Storage.StateBackend != BackendMemory || c.Storage.HistoryBackend != BackendMemory {
		t.Fatalf("expected memory backends, got %+v", c.Storage)
	}
	if c.Engine.Gate != GatePerCall || c.Engine.GateTTL != 30*time.Second {
		t.Fatalf("unexpected engine defaults %+v", c.Engine)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %v", c.Auth.AccessTokenTTL)
	}
	if c.Bot.Name != "CallBot" {
		t.Fatalf("unexpected bot name %q", c.Bot.Name)
	}
}

func TestValidate_ProductionRequiresExplicitChoices(t *testing.T) {
	c := localConfig()
	c.App.Env = "production"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"STATE_BACKEND", "HISTORY_BACKEND", "WEBHOOK_JWT_SECRET", "GRAPH_TENANT_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_PostgresBackendNeedsDB(t *testing.T) {
	c := localConfig()
	c.Storage.StateBackend = BackendPostgres
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_HOST") {
		t.Fatalf("expected DB errors, got %v", err)
	}

	c = localConfig()
	c.Storage.HistoryBackend = BackendPostgres
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "callbot"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RedisGateNeedsRedis(t *testing.T) {
	c := localConfig()
	c.Engine.Gate = GateRedis
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "REDIS_HOST") {
		t.Fatalf("expected redis errors, got %v", err)
	}
	if !c.UsesRedis() {
		t.Fatalf("expected redis in use")
	}
}

func TestValidate_S3HistoryNeedsBucket(t *testing.T) {
	c := localConfig()
	c.Storage.HistoryBackend = BackendS3
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "HISTORY_S3_BUCKET") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestValidate_RejectsUnknownValues(t *testing.T) {
	c := localConfig()
	c.Storage.StateBackend = "cassandra"
	c.Engine.Gate = "actor"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "STATE_BACKEND") || !strings.Contains(err.Error(), "ENGINE_GATE") {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("BOT_CALLBACK_URL", "https://bot/cb")
	t.Setenv("STATE_BACKEND", "Redis")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("ENGINE_GATE_TTL", "5s")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9090" || c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected addrs %q %q", c.HTTPAddr(), c.RedisAddr())
	}
	if c.Storage.StateBackend != BackendRedis || c.Engine.GateTTL != 5*time.Second {
		t.Fatalf("unexpected config %+v", c)
	}
}

func TestLoad_RejectsBadPort(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "eighty")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "APP_PORT") {
		t.Fatalf("expected port parse error, got %v", err)
	}
}

func TestLoad_TracingSettings(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("BOT_CALLBACK_URL", "https://bot/cb")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_SAMPLING_RATE", "0.25")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Tracing.Endpoint != "collector:4317" || !c.Tracing.Insecure || c.Tracing.SamplingRate != 0.25 {
		t.Fatalf("unexpected tracing config %+v", c.Tracing)
	}

	t.Setenv("OTEL_SAMPLING_RATE", "2")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "OTEL_SAMPLING_RATE") {
		t.Fatalf("expected sampling rate error, got %v", err)
	}
}
