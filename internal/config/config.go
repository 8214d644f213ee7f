package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Storage StorageConfig
	DB      DBConfig
	Redis   RedisConfig
	S3      HistoryS3Config
	Engine  EngineConfig
	Auth    AuthConfig
	Webhook WebhookConfig
	Graph   GraphConfig
	Bot     BotConfig
	Tracing TracingConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendS3       = "s3"
)

type StorageConfig struct {
	// StateBackend: memory, postgres, redis
	StateBackend string
	// HistoryBackend: memory, postgres, s3
	HistoryBackend string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host      string
	Port      int
	KeyPrefix string
}

type HistoryS3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

const (
	GateGlobal  = "global"
	GatePerCall = "per_call"
	GateRedis   = "redis"
)

type EngineConfig struct {
	Gate    string
	GateTTL time.Duration
}

// AuthConfig covers operator tokens for the /v1 API.
type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// WebhookConfig covers bearer tokens on inbound notifications.
type WebhookConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type GraphConfig struct {
	BaseURL      string
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
}

type BotConfig struct {
	Name             string
	CallbackURL      string
	WelcomePromptURI string
	HangUpTone       string
}

// TracingConfig enables OTLP span export. An empty endpoint keeps tracing
// in-process only.
type TracingConfig struct {
	Endpoint     string
	Insecure     bool
	SamplingRate float64
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Storage.StateBackend = strings.ToLower(strings.TrimSpace(os.Getenv("STATE_BACKEND")))
	c.Storage.HistoryBackend = strings.ToLower(strings.TrimSpace(os.Getenv("HISTORY_BACKEND")))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.KeyPrefix = strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX"))

	c.S3.Bucket = strings.TrimSpace(os.Getenv("HISTORY_S3_BUCKET"))
	c.S3.Region = strings.TrimSpace(os.Getenv("HISTORY_S3_REGION"))
	c.S3.Endpoint = strings.TrimSpace(os.Getenv("HISTORY_S3_ENDPOINT"))
	c.S3.Prefix = strings.TrimSpace(os.Getenv("HISTORY_S3_PREFIX"))

	c.Engine.Gate = strings.ToLower(strings.TrimSpace(os.Getenv("ENGINE_GATE")))
	c.Engine.GateTTL = mustDuration("ENGINE_GATE_TTL")

	c.Auth, c.Webhook = LoadAuth()

	c.Graph.BaseURL = strings.TrimSpace(os.Getenv("GRAPH_BASE_URL"))
	c.Graph.TenantID = strings.TrimSpace(os.Getenv("GRAPH_TENANT_ID"))
	c.Graph.ClientID = strings.TrimSpace(os.Getenv("GRAPH_CLIENT_ID"))
	c.Graph.ClientSecret = os.Getenv("GRAPH_CLIENT_SECRET")
	c.Graph.TokenURL = strings.TrimSpace(os.Getenv("GRAPH_TOKEN_URL"))

	c.Bot.Name = strings.TrimSpace(os.Getenv("BOT_NAME"))
	c.Bot.CallbackURL = strings.TrimSpace(os.Getenv("BOT_CALLBACK_URL"))
	c.Bot.WelcomePromptURI = strings.TrimSpace(os.Getenv("BOT_WELCOME_PROMPT_URI"))
	c.Bot.HangUpTone = strings.TrimSpace(os.Getenv("BOT_HANGUP_TONE"))

	c.Tracing.Endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	c.Tracing.Insecure = strings.EqualFold(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")), "true")
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLING_RATE")); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 1 {
			parseErrs = append(parseErrs, fmt.Errorf("OTEL_SAMPLING_RATE must be a number between 0 and 1, got %q", v))
		}
		c.Tracing.SamplingRate = rate
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadAuth reads only the token settings. Tools that mint tokens use it
// without needing the full service configuration.
func LoadAuth() (AuthConfig, WebhookConfig) {
	// JWT_ACCESS_TTL is optional; Validate applies the default.
	a := AuthConfig{
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience:    strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		AccessTokenTTL: mustDuration("JWT_ACCESS_TTL"),
	}
	w := WebhookConfig{
		JWTSecret:   os.Getenv("WEBHOOK_JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("WEBHOOK_JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("WEBHOOK_JWT_AUDIENCE")),
	}
	return a, w
}

// Validate checks the config and fills environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	// Local-friendly defaults; production must choose backends explicitly.
	if c.Storage.StateBackend == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("STATE_BACKEND is required in production"))
		} else {
			c.Storage.StateBackend = BackendMemory
		}
	}
	if c.Storage.HistoryBackend == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("HISTORY_BACKEND is required in production"))
		} else {
			c.Storage.HistoryBackend = BackendMemory
		}
	}
	switch c.Storage.StateBackend {
	case "", BackendMemory, BackendPostgres, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be one of memory, postgres, redis, got %q", c.Storage.StateBackend))
	}
	switch c.Storage.HistoryBackend {
	case "", BackendMemory, BackendPostgres, BackendS3:
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND must be one of memory, postgres, s3, got %q", c.Storage.HistoryBackend))
	}

	if c.Engine.Gate == "" {
		c.Engine.Gate = GatePerCall
	}
	switch c.Engine.Gate {
	case GateGlobal, GatePerCall, GateRedis:
	default:
		errs = append(errs, fmt.Errorf("ENGINE_GATE must be one of global, per_call, redis, got %q", c.Engine.Gate))
	}
	if c.Engine.GateTTL <= 0 {
		c.Engine.GateTTL = 30 * time.Second
	}

	if c.UsesPostgres() {
		errs = append(errs, c.validateDB()...)
	}
	if c.UsesRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}
	if c.Storage.HistoryBackend == BackendS3 {
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("HISTORY_S3_BUCKET is required"))
		}
		if c.S3.Region == "" {
			errs = append(errs, errors.New("HISTORY_S3_REGION is required"))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Webhook.JWTSecret == "" {
			errs = append(errs, errors.New("WEBHOOK_JWT_SECRET is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Bot.Name == "" {
		c.Bot.Name = "CallBot"
	}
	if c.Bot.CallbackURL == "" {
		errs = append(errs, errors.New("BOT_CALLBACK_URL is required"))
	}
	if c.IsProduction() && (c.Graph.TenantID == "" || c.Graph.ClientID == "" || c.Graph.ClientSecret == "") {
		errs = append(errs, errors.New("GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required in production"))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) UsesPostgres() bool {
	return c.Storage.StateBackend == BackendPostgres || c.Storage.HistoryBackend == BackendPostgres
}

func (c Config) UsesRedis() bool {
	return c.Storage.StateBackend == BackendRedis || c.Engine.Gate == GateRedis
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalInt is like mustInt but an unset key yields 0; Validate decides
// whether it was needed.
func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
