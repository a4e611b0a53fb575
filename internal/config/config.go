package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"fxdesk/pkg/instrument"
	"fxdesk/pkg/secrets"
)

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Portfolio   PortfolioConfig    `mapstructure:"portfolio"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	GCP         GCPConfig          `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// OrderRateLimit caps order submissions per second; OrderRateBurst is
	// the allowed burst above it.
	OrderRateLimit float64 `mapstructure:"order_rate_limit"`
	OrderRateBurst int     `mapstructure:"order_rate_burst"`
}

type FeedConfig struct {
	URL string `mapstructure:"url"`

	// Static token authentication (default)
	Token string `mapstructure:"token"`

	// JWT authentication (enterprise endpoints)
	AuthType      string `mapstructure:"auth_type"` // "token" or "jwt"
	APIKeyName    string `mapstructure:"api_key_name"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`

	ReconnectBaseDelayMS int `mapstructure:"reconnect_base_delay_ms"`
	MaxReconnects        int `mapstructure:"max_reconnects"`
	SimIntervalMS        int `mapstructure:"sim_interval_ms"`
}

type PortfolioConfig struct {
	StartingCash float64 `mapstructure:"starting_cash"`
}

type InstrumentConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	FeedSymbol string  `mapstructure:"feed_symbol"`
	SeedPrice  float64 `mapstructure:"seed_price"`
	Volatility float64 `mapstructure:"volatility"`
	Precision  int     `mapstructure:"precision"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fxdesk")
	}

	// Read environment variables
	v.SetEnvPrefix("FXDESK")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if set
	overrideFromEnv(&config)

	// Load secrets from GCP if enabled
	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.order_rate_limit", 5.0)
	v.SetDefault("server.order_rate_burst", 10)

	// Feed defaults
	v.SetDefault("feed.url", "wss://ws.finnhub.io")
	v.SetDefault("feed.auth_type", "token")
	v.SetDefault("feed.reconnect_base_delay_ms", 2000)
	v.SetDefault("feed.max_reconnects", 5)
	v.SetDefault("feed.sim_interval_ms", 1500)

	// Portfolio defaults
	v.SetDefault("portfolio.starting_cash", 100000.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	// Secret name defaults
	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.feed_token", secretNames.FeedToken)
	v.SetDefault("gcp.secret_names.feed_api_key_name", secretNames.FeedAPIKeyName)
	v.SetDefault("gcp.secret_names.feed_private_key", secretNames.FeedPrivateKey)
}

func overrideFromEnv(config *Config) {
	// Feed credentials from environment
	if token := os.Getenv("FXDESK_FEED_TOKEN"); token != "" {
		config.Feed.Token = token
	}
	if authType := os.Getenv("FXDESK_FEED_AUTH_TYPE"); authType != "" {
		config.Feed.AuthType = authType
	}
	if apiKeyName := os.Getenv("FXDESK_FEED_API_KEY_NAME"); apiKeyName != "" {
		config.Feed.APIKeyName = apiKeyName
	}
	if privateKey := os.Getenv("FXDESK_FEED_PRIVATE_KEY"); privateKey != "" {
		config.Feed.PrivateKeyPEM = privateKey
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets if they're not already set
	if config.Feed.Token == "" {
		config.Feed.Token = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.FeedToken, "")
	}
	if config.Feed.APIKeyName == "" {
		config.Feed.APIKeyName = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.FeedAPIKeyName, "")
	}
	if config.Feed.PrivateKeyPEM == "" {
		config.Feed.PrivateKeyPEM = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.FeedPrivateKey, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// Registry builds the instrument registry from config, falling back to the
// standard deployment when no instruments are configured.
func (c *Config) Registry() (*instrument.Registry, error) {
	if len(c.Instruments) == 0 {
		return instrument.NewRegistry(instrument.Defaults())
	}

	instruments := make([]instrument.Instrument, 0, len(c.Instruments))
	for _, ic := range c.Instruments {
		instruments = append(instruments, instrument.Instrument{
			Symbol:     ic.Symbol,
			FeedSymbol: ic.FeedSymbol,
			SeedPrice:  ic.SeedPrice,
			Volatility: ic.Volatility,
			Precision:  ic.Precision,
		})
	}
	return instrument.NewRegistry(instruments)
}

// ReconnectBaseDelay returns the backoff base as a duration.
func (c *FeedConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMS) * time.Millisecond
}

// SimInterval returns the generator tick interval as a duration.
func (c *FeedConfig) SimInterval() time.Duration {
	return time.Duration(c.SimIntervalMS) * time.Millisecond
}
