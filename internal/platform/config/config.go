package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the channel gateway.
// Every key can be overridden with an APP_ prefixed environment variable, e.g. APP_NATS_URL.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	HTTPPort       int `mapstructure:"HTTP_PORT"`
	GRPCHealthPort int `mapstructure:"GRPC_HEALTH_PORT"`

	// PostgresDSN is optional; without it SLA events stay in memory.
	PostgresDSN string `mapstructure:"POSTGRES_DSN"`
	NATSUrl     string `mapstructure:"NATS_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	WebhookRateLimitRPS   float64 `mapstructure:"WEBHOOK_RATE_LIMIT_RPS"`
	WebhookRateLimitBurst int     `mapstructure:"WEBHOOK_RATE_LIMIT_BURST"`
	PublicBaseURL         string  `mapstructure:"PUBLIC_BASE_URL"`
	DefaultOrganizationID string  `mapstructure:"DEFAULT_ORGANIZATION_ID"`

	AgentExecutorGRPCTarget   string `mapstructure:"AGENT_EXECUTOR_GRPC_TARGET"`
	AgentExecuteTimeoutSecs   int    `mapstructure:"AGENT_EXECUTE_TIMEOUT_SECONDS"`
	DefaultAgentID            string `mapstructure:"DEFAULT_AGENT_ID"`
	InboundDedupeTTLMinutes   int    `mapstructure:"INBOUND_DEDUPE_TTL_MINUTES"`
	RetryMaxAttempts          int    `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelayMs          int    `mapstructure:"RETRY_BASE_DELAY_MS"`
	RetryAttemptTimeoutSecs   int    `mapstructure:"RETRY_ATTEMPT_TIMEOUT_SECONDS"`
	DeadLetterQueueCapacity   int    `mapstructure:"DLQ_CAPACITY"`
	ProviderHTTPTimeoutSecs   int    `mapstructure:"PROVIDER_HTTP_TIMEOUT_SECONDS"`
	ShutdownGracePeriodSecond int    `mapstructure:"SHUTDOWN_GRACE_PERIOD_SECONDS"`

	// Default provider credentials, used when an organization's config leaves a key out.
	WhatsAppAPIBase       string `mapstructure:"WHATSAPP_API_BASE"`
	WhatsAppAccessToken   string `mapstructure:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID string `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAppSecret     string `mapstructure:"WHATSAPP_APP_SECRET"`
	WhatsAppVerifyToken   string `mapstructure:"WHATSAPP_VERIFY_TOKEN"`

	MessengerAPIBase         string `mapstructure:"MESSENGER_API_BASE"`
	MessengerPageAccessToken string `mapstructure:"MESSENGER_PAGE_ACCESS_TOKEN"`
	MessengerAppSecret       string `mapstructure:"MESSENGER_APP_SECRET"`
	MessengerVerifyToken     string `mapstructure:"MESSENGER_VERIFY_TOKEN"`

	TelegramAPIBase     string `mapstructure:"TELEGRAM_API_BASE"`
	TelegramBotToken    string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramSecretToken string `mapstructure:"TELEGRAM_SECRET_TOKEN"`

	SlackAPIBase       string `mapstructure:"SLACK_API_BASE"`
	SlackBotToken      string `mapstructure:"SLACK_BOT_TOKEN"`
	SlackSigningSecret string `mapstructure:"SLACK_SIGNING_SECRET"`

	TwilioAPIBase    string `mapstructure:"TWILIO_API_BASE"`
	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `mapstructure:"TWILIO_FROM_NUMBER"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
}

var defaults = map[string]any{
	"LOG_LEVEL":                     "info",
	"HTTP_PORT":                     8080,
	"GRPC_HEALTH_PORT":              50061,
	"POSTGRES_DSN":                  "",
	"NATS_URL":                      "nats://localhost:4222",
	"REDIS_URL":                     "",
	"JWT_SECRET":                    "jwt-secret-must-be-overridden-in-prod",
	"WEBHOOK_RATE_LIMIT_RPS":        50.0,
	"WEBHOOK_RATE_LIMIT_BURST":      100,
	"PUBLIC_BASE_URL":               "http://localhost:8080",
	"DEFAULT_ORGANIZATION_ID":       "default",
	"AGENT_EXECUTOR_GRPC_TARGET":    "",
	"AGENT_EXECUTE_TIMEOUT_SECONDS": 30,
	"DEFAULT_AGENT_ID":              "",
	"INBOUND_DEDUPE_TTL_MINUTES":    10,
	"RETRY_MAX_ATTEMPTS":            3,
	"RETRY_BASE_DELAY_MS":           250,
	"RETRY_ATTEMPT_TIMEOUT_SECONDS": 10,
	"DLQ_CAPACITY":                  200,
	"PROVIDER_HTTP_TIMEOUT_SECONDS": 10,
	"SHUTDOWN_GRACE_PERIOD_SECONDS": 15,

	"WHATSAPP_API_BASE":           "https://graph.facebook.com/v18.0",
	"WHATSAPP_ACCESS_TOKEN":       "",
	"WHATSAPP_PHONE_NUMBER_ID":    "",
	"WHATSAPP_APP_SECRET":         "",
	"WHATSAPP_VERIFY_TOKEN":       "",
	"MESSENGER_API_BASE":          "https://graph.facebook.com/v18.0",
	"MESSENGER_PAGE_ACCESS_TOKEN": "",
	"MESSENGER_APP_SECRET":        "",
	"MESSENGER_VERIFY_TOKEN":      "",
	"TELEGRAM_API_BASE":           "https://api.telegram.org",
	"TELEGRAM_BOT_TOKEN":          "",
	"TELEGRAM_SECRET_TOKEN":       "",
	"SLACK_API_BASE":              "https://slack.com/api",
	"SLACK_BOT_TOKEN":             "",
	"SLACK_SIGNING_SECRET":        "",
	"TWILIO_API_BASE":             "https://api.twilio.com/2010-04-01",
	"TWILIO_ACCOUNT_SID":          "",
	"TWILIO_AUTH_TOKEN":           "",
	"TWILIO_FROM_NUMBER":          "",
	"SMTP_HOST":                   "localhost",
	"SMTP_PORT":                   587,
	"SMTP_USERNAME":               "",
	"SMTP_PASSWORD":               "",
	"SMTP_FROM":                   "no-reply@localhost",
}

// Load reads config.defaults.yaml when one is found, then applies APP_ environment overrides.
// A .env file in the working directory is loaded first without overriding the real environment.
func Load(configPaths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config.defaults")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs") // running from cmd/<service>
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("APP")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Printf("Configuration file ('config.defaults.yaml') not found; using defaults and environment variables.")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) AgentExecuteTimeout() time.Duration {
	return time.Duration(c.AgentExecuteTimeoutSecs) * time.Second
}

func (c *Config) InboundDedupeTTL() time.Duration {
	return time.Duration(c.InboundDedupeTTLMinutes) * time.Minute
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c *Config) RetryAttemptTimeout() time.Duration {
	return time.Duration(c.RetryAttemptTimeoutSecs) * time.Second
}

func (c *Config) ProviderHTTPTimeout() time.Duration {
	return time.Duration(c.ProviderHTTPTimeoutSecs) * time.Second
}

func (c *Config) ShutdownGracePeriod() time.Duration {
	return time.Duration(c.ShutdownGracePeriodSecond) * time.Second
}
