package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
	Gateways GatewaysConfig `mapstructure:"gateways"`
	Fraud    FraudConfig    `mapstructure:"fraud"`
	Payments PaymentsConfig `mapstructure:"payments"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func (c DatabaseConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("database host is required"))
	}
	if c.User == "" {
		errs = append(errs, errors.New("database user is required"))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	return errors.Join(errs...)
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type SecurityConfig struct {
	JWTAccessSecret     string        `mapstructure:"jwt_access_secret"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
}

func (c SecurityConfig) Validate() error {
	if len(c.JWTAccessSecret) < 32 {
		return errors.New("jwt access secret must be at least 32 characters")
	}
	return nil
}

type GatewaysConfig struct {
	Stripe      StripeConfig      `mapstructure:"stripe"`
	Paystack    PaystackConfig    `mapstructure:"paystack"`
	Flutterwave FlutterwaveConfig `mapstructure:"flutterwave"`
	MTNMoMo     MTNMoMoConfig     `mapstructure:"mtn_momo"`
}

func (c GatewaysConfig) Validate() error {
	var errs []error
	if err := c.Stripe.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.MTNMoMo.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.Stripe.Enabled() && !c.Paystack.Enabled() && !c.Flutterwave.Enabled() && !c.MTNMoMo.Enabled() {
		errs = append(errs, errors.New("at least one payment gateway must be configured"))
	}
	return errors.Join(errs...)
}

type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	PublishableKey string `mapstructure:"publishable_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	BaseURL        string `mapstructure:"base_url"`
}

func (c StripeConfig) Enabled() bool {
	return c.SecretKey != ""
}

func (c StripeConfig) Validate() error {
	if c.SecretKey != "" && c.WebhookSecret == "" {
		return errors.New("stripe webhook secret is required when a secret key is configured")
	}
	return nil
}

type PaystackConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	PublicKey string `mapstructure:"public_key"`
	BaseURL   string `mapstructure:"base_url"`
}

func (c PaystackConfig) Enabled() bool {
	return c.SecretKey != ""
}

type FlutterwaveConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	PublicKey string `mapstructure:"public_key"`
	BaseURL   string `mapstructure:"base_url"`
}

func (c FlutterwaveConfig) Enabled() bool {
	return c.SecretKey != ""
}

type MTNMoMoConfig struct {
	SubscriptionKey string `mapstructure:"subscription_key"`
	APIUser         string `mapstructure:"api_user"`
	APIKey          string `mapstructure:"api_key"`
	Sandbox         bool   `mapstructure:"sandbox"`
	CallbackURL     string `mapstructure:"callback_url"`
	BaseURL         string `mapstructure:"base_url"`
}

func (c MTNMoMoConfig) Enabled() bool {
	return c.SubscriptionKey != "" && c.APIUser != "" && c.APIKey != ""
}

func (c MTNMoMoConfig) Validate() error {
	if c.SubscriptionKey == "" {
		return nil
	}
	if c.APIUser == "" || c.APIKey == "" {
		return errors.New("mtn momo api user and api key are required when a subscription key is configured")
	}
	return nil
}

type FraudConfig struct {
	MaxFailedAttempts  int           `mapstructure:"max_failed_attempts"`
	FailureWindow      time.Duration `mapstructure:"failure_window"`
	MaxAmountUSD       int64         `mapstructure:"max_amount_usd"`
	FirstPaymentMaxUSD int64         `mapstructure:"first_payment_max_usd"`
	SuspicionThreshold int           `mapstructure:"suspicion_threshold"`
	BlockTTL           time.Duration `mapstructure:"block_ttl"`
}

type PaymentsConfig struct {
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"`
	PendingExpiry  time.Duration `mapstructure:"pending_expiry"`
	VerifyInterval time.Duration `mapstructure:"verify_interval"`
	ExpireInterval time.Duration `mapstructure:"expire_interval"`
	VerifyAge      time.Duration `mapstructure:"verify_age"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxWorkers     int           `mapstructure:"max_workers"`
}

// ApplyDefaults fills unset tuning knobs so a minimal config file or
// environment still produces a runnable service.
func (c *Config) ApplyDefaults() {
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Security.AccessTokenDuration == 0 {
		c.Security.AccessTokenDuration = 15 * time.Minute
	}
	if c.Fraud.MaxFailedAttempts == 0 {
		c.Fraud.MaxFailedAttempts = 3
	}
	if c.Fraud.FailureWindow == 0 {
		c.Fraud.FailureWindow = time.Hour
	}
	if c.Fraud.MaxAmountUSD == 0 {
		c.Fraud.MaxAmountUSD = 10000
	}
	if c.Fraud.FirstPaymentMaxUSD == 0 {
		c.Fraud.FirstPaymentMaxUSD = 1000
	}
	if c.Fraud.SuspicionThreshold == 0 {
		c.Fraud.SuspicionThreshold = 70
	}
	if c.Fraud.BlockTTL == 0 {
		c.Fraud.BlockTTL = 24 * time.Hour
	}
	if c.Payments.GatewayTimeout == 0 {
		c.Payments.GatewayTimeout = 30 * time.Second
	}
	if c.Payments.PendingExpiry == 0 {
		c.Payments.PendingExpiry = 24 * time.Hour
	}
	if c.Payments.VerifyInterval == 0 {
		c.Payments.VerifyInterval = 15 * time.Minute
	}
	if c.Payments.ExpireInterval == 0 {
		c.Payments.ExpireInterval = time.Hour
	}
	if c.Payments.VerifyAge == 0 {
		c.Payments.VerifyAge = 15 * time.Minute
	}
	if c.Payments.BatchSize == 0 {
		c.Payments.BatchSize = 100
	}
	if c.Payments.MaxWorkers == 0 {
		c.Payments.MaxWorkers = 4
	}
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Gateways.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadConfigFromEnv builds the configuration purely from environment
// variables. Used when the service runs in a container where no config
// file is mounted.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "payment_hub"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		},
		Gateways: GatewaysConfig{
			Stripe: StripeConfig{
				SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
				PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
				WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
				BaseURL:        getEnv("STRIPE_BASE_URL", ""),
			},
			Paystack: PaystackConfig{
				SecretKey: getEnv("PAYSTACK_SECRET_KEY", ""),
				PublicKey: getEnv("PAYSTACK_PUBLIC_KEY", ""),
				BaseURL:   getEnv("PAYSTACK_BASE_URL", ""),
			},
			Flutterwave: FlutterwaveConfig{
				SecretKey: getEnv("FLUTTERWAVE_SECRET_KEY", ""),
				PublicKey: getEnv("FLUTTERWAVE_PUBLIC_KEY", ""),
				BaseURL:   getEnv("FLUTTERWAVE_BASE_URL", ""),
			},
			MTNMoMo: MTNMoMoConfig{
				SubscriptionKey: getEnv("MOMO_SUBSCRIPTION_KEY", ""),
				APIUser:         getEnv("MOMO_API_USER", ""),
				APIKey:          getEnv("MOMO_API_KEY", ""),
				Sandbox:         getEnvAsBool("MOMO_SANDBOX", true),
				CallbackURL:     getEnv("MOMO_CALLBACK_URL", ""),
				BaseURL:         getEnv("MOMO_BASE_URL", ""),
			},
		},
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
