package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/ratelimit"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreDynamoDB = "dynamodb"
	StoreBolt     = "bolt"
)

const (
	PolicyWebhook = "webhook"
	PolicyAPI     = "api"
	PolicyAuth    = "auth"
)

// DefaultSecretsName is the Secrets Manager secret read when AWS_USE_SECRETS=true.
const DefaultSecretsName = "webhook-service/credentials"

// PolicySettings are the tunable parts of one rate-limit policy.
type PolicySettings struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
	Message     string        `yaml:"message"`
}

type Config struct {
	Port   string
	AppEnv string

	WebhookSecret       string
	WebhookTolerance    time.Duration
	WebhookMaxBodyBytes int64

	OrderStore       string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string
	MongoURI         string
	MongoDB          string
	DynamoOrderTable string
	BoltPath         string
	StoreTimeout     time.Duration

	Notifiers                   []string
	RedisAddr                   string
	RedisPassword               string
	CacheInvalidationChannel    string
	CacheInvalidationTopicARN   string
	KafkaBrokers                []string
	CacheInvalidationKafkaTopic string

	AdminJWTSecret string

	RateLimitBypassToken   string
	RateLimitSweepInterval time.Duration
	RateLimitPolicyFile    string
	RateLimits             map[string]PolicySettings

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	UseSecrets    bool
	SecretsName   string
	SecretsLoaded bool
}

// LoadConfig reads .env (if present) and the environment, applies the
// Secrets Manager overlay and policy file when configured, and validates the
// result. A missing webhook secret is not an error here; requests report it.
func LoadConfig(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseSecrets {
		if awsCfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
			sm := awspkg.NewSecretsClient(awsCfg)
			if values, err := sm.GetSecretJSON(ctx, cfg.SecretsName); err == nil {
				cfg.ApplySecrets(values)
			}
		}
	}

	if cfg.RateLimitPolicyFile != "" {
		overrides, err := LoadPolicyFile(cfg.RateLimitPolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.ApplyPolicyOverrides(overrides)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (*Config, error) {
	p := envParser{}
	cfg := &Config{
		Port:   getEnv("PORT", "8088"),
		AppEnv: getEnv("APP_ENV", "development"),

		WebhookSecret:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
		WebhookTolerance:    p.duration("WEBHOOK_TOLERANCE", 5*time.Minute),
		WebhookMaxBodyBytes: int64(p.integer("WEBHOOK_MAX_BODY_BYTES", 65536)),

		OrderStore:       strings.ToLower(getEnv("ORDER_STORE", StorePostgres)),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "webhooks"),
		DynamoOrderTable: os.Getenv("DYNAMODB_ORDERS_TABLE"),
		BoltPath:         getEnv("BOLT_PATH", "orders.db"),
		StoreTimeout:     p.duration("STORE_TIMEOUT", 5*time.Second),

		Notifiers:                   splitList(getEnv("NOTIFIERS", "log")),
		RedisAddr:                   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:               os.Getenv("REDIS_PASSWORD"),
		CacheInvalidationChannel:    getEnv("CACHE_INVALIDATION_CHANNEL", "cache-invalidation"),
		CacheInvalidationTopicARN:   os.Getenv("CACHE_INVALIDATION_TOPIC_ARN"),
		KafkaBrokers:                splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		CacheInvalidationKafkaTopic: getEnv("CACHE_INVALIDATION_KAFKA_TOPIC", "cache-invalidation"),

		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),

		RateLimitBypassToken:   os.Getenv("RATE_LIMIT_BYPASS_TOKEN"),
		RateLimitSweepInterval: p.duration("RATE_LIMIT_SWEEP_INTERVAL", 60*time.Second),
		RateLimitPolicyFile:    os.Getenv("RATE_LIMIT_POLICY_FILE"),
		RateLimits: map[string]PolicySettings{
			PolicyWebhook: {
				Window:      p.duration("RATE_LIMIT_WEBHOOK_WINDOW", time.Minute),
				MaxRequests: p.integer("RATE_LIMIT_WEBHOOK_MAX", 100),
				Message:     "Too many webhook deliveries, please retry later.",
			},
			PolicyAPI: {
				Window:      p.duration("RATE_LIMIT_API_WINDOW", 15*time.Minute),
				MaxRequests: p.integer("RATE_LIMIT_API_MAX", 100),
				Message:     "Too many requests, please try again later.",
			},
			PolicyAuth: {
				Window:      p.duration("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
				MaxRequests: p.integer("RATE_LIMIT_AUTH_MAX", 5),
				Message:     "Too many authentication attempts, please try again later.",
			},
		},

		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "WebhookService"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/webhook-service"),

		UseSecrets:  os.Getenv("AWS_USE_SECRETS") == "true",
		SecretsName: getEnv("WEBHOOK_SECRETS_NAME", DefaultSecretsName),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplySecrets overrides credentials with values read from Secrets Manager.
func (c *Config) ApplySecrets(values map[string]string) {
	set := func(dst *string, key string) {
		if v := values[key]; v != "" {
			*dst = v
		}
	}
	set(&c.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	set(&c.PostgresUser, "POSTGRES_USER")
	set(&c.PostgresPassword, "POSTGRES_PASSWORD")
	set(&c.PostgresDB, "POSTGRES_DB")
	set(&c.PostgresHost, "POSTGRES_HOST")
	set(&c.PostgresPort, "POSTGRES_PORT")
	set(&c.AdminJWTSecret, "ADMIN_JWT_SECRET")
	set(&c.RedisPassword, "REDIS_PASSWORD")
	c.SecretsLoaded = true
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.OrderStore {
	case StorePostgres:
		if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
			errs = append(errs, fmt.Errorf("ORDER_STORE=postgres requires POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DB and POSTGRES_HOST"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, fmt.Errorf("ORDER_STORE=mongo requires MONGO_URI"))
		}
	case StoreDynamoDB:
		if c.DynamoOrderTable == "" {
			errs = append(errs, fmt.Errorf("ORDER_STORE=dynamodb requires DYNAMODB_ORDERS_TABLE"))
		}
	case StoreBolt:
		if c.BoltPath == "" {
			errs = append(errs, fmt.Errorf("ORDER_STORE=bolt requires BOLT_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ORDER_STORE %q", c.OrderStore))
	}

	for _, n := range c.Notifiers {
		switch n {
		case "log", "redis", "kafka":
		case "sns":
			if c.CacheInvalidationTopicARN == "" {
				errs = append(errs, fmt.Errorf("notifier sns requires CACHE_INVALIDATION_TOPIC_ARN"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown notifier %q", n))
		}
	}

	for _, name := range []string{PolicyWebhook, PolicyAPI, PolicyAuth} {
		s, ok := c.RateLimits[name]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("rate limit policy %q missing", name))
		case s.Window <= 0:
			errs = append(errs, fmt.Errorf("rate limit policy %q: window must be positive", name))
		case s.MaxRequests < 1:
			errs = append(errs, fmt.Errorf("rate limit policy %q: max requests must be at least 1", name))
		}
	}

	if c.WebhookTolerance <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_TOLERANCE must be positive"))
	}
	if c.WebhookMaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must be positive"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_TIMEOUT must be positive"))
	}
	if c.RateLimitSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// RateLimitPolicy builds the named policy. Clients are keyed by address; the
// bypass token exempts internal callers from every policy except auth.
func (c *Config) RateLimitPolicy(name string) ratelimit.Policy {
	s := c.RateLimits[name]
	p := ratelimit.Policy{
		Name:        name,
		Window:      s.Window,
		MaxRequests: s.MaxRequests,
		KeyFunc:     ratelimit.ClientAddressKey,
		Message:     s.Message,
	}
	if name != PolicyAuth {
		p.Skip = ratelimit.BypassToken(c.RateLimitBypassToken)
	}
	return p
}

// PostgresDSN returns the connection string for gorm's postgres driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envParser collects parse errors so one bad value does not hide the next.
type envParser struct {
	errs []error
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (p *envParser) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}
