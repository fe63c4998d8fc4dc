/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the generation-service.
// These values are loaded from environment variables and constructed once at
// startup; adapters receive their settings through constructors instead of
// reading the environment at call time.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	JWTSecretKey       string `mapstructure:"JWT_SECRET_KEY"`
	AccessTokenTTLMin  int    `mapstructure:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	ResetTokenTTLMin   int    `mapstructure:"RESET_TOKEN_EXPIRE_MINUTES"`
	AllowedCORSOrigins string `mapstructure:"ALLOWED_CORS_ORIGINS"`

	// On-chain top-up verification.
	ChainRPCURL     string `mapstructure:"CHAIN_RPC_URL"`
	TreasuryAddress string `mapstructure:"TREASURY_ADDRESS"`
	CoinsPerUSDC    int64  `mapstructure:"COINS_PER_USDC"`

	// Generation providers.
	DefaultProvider    string `mapstructure:"DEFAULT_PROVIDER"`
	ReplicateAPIURL    string `mapstructure:"REPLICATE_API_URL"`
	ReplicateAPIToken  string `mapstructure:"REPLICATE_API_TOKEN"`
	Veo3APIURL         string `mapstructure:"VEO3_API_URL"`
	Veo3APIKey         string `mapstructure:"VEO3_API_KEY"`
	Sora2APIURL        string `mapstructure:"SORA2_API_URL"`
	Sora2APIKey        string `mapstructure:"SORA2_API_KEY"`
	KlingAPIURL        string `mapstructure:"KLING_API_URL"`
	KlingAccessKey     string `mapstructure:"KLING_ACCESS_KEY"`
	KlingSecretKey     string `mapstructure:"KLING_SECRET_KEY"`
	ProviderTimeoutSec int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`

	// Rate limiting.
	GenerateRateLimitPerMinute   int `mapstructure:"GENERATE_RATE_LIMIT_PER_MINUTE"`
	TopUpClaimRateLimitPerMinute int `mapstructure:"TOPUP_CLAIM_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8001")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "arcforge:rate_limit")
	viper.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24)
	viper.SetDefault("RESET_TOKEN_EXPIRE_MINUTES", 60)
	viper.SetDefault("ALLOWED_CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")
	viper.SetDefault("CHAIN_RPC_URL", "https://rpc.testnet.arc.network")
	viper.SetDefault("COINS_PER_USDC", 100)
	viper.SetDefault("DEFAULT_PROVIDER", "mock")
	viper.SetDefault("REPLICATE_API_URL", "https://api.replicate.com")
	viper.SetDefault("SORA2_API_URL", "https://api.openai.com")
	viper.SetDefault("KLING_API_URL", "https://api.klingai.com")
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 120)
	viper.SetDefault("GENERATE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("TOPUP_CLAIM_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET_KEY")
	_ = viper.BindEnv("ACCESS_TOKEN_EXPIRE_MINUTES")
	_ = viper.BindEnv("RESET_TOKEN_EXPIRE_MINUTES")
	_ = viper.BindEnv("ALLOWED_CORS_ORIGINS")
	_ = viper.BindEnv("CHAIN_RPC_URL")
	_ = viper.BindEnv("TREASURY_ADDRESS")
	_ = viper.BindEnv("COINS_PER_USDC")
	_ = viper.BindEnv("DEFAULT_PROVIDER")
	_ = viper.BindEnv("REPLICATE_API_URL")
	_ = viper.BindEnv("REPLICATE_API_TOKEN")
	_ = viper.BindEnv("VEO3_API_URL")
	_ = viper.BindEnv("VEO3_API_KEY")
	_ = viper.BindEnv("SORA2_API_URL")
	_ = viper.BindEnv("SORA2_API_KEY", "SORA2_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("KLING_API_URL")
	_ = viper.BindEnv("KLING_ACCESS_KEY")
	_ = viper.BindEnv("KLING_SECRET_KEY")
	_ = viper.BindEnv("PROVIDER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("GENERATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TOPUP_CLAIM_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.JWTSecretKey = strings.TrimSpace(config.JWTSecretKey)
	config.TreasuryAddress = strings.TrimSpace(config.TreasuryAddress)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "arcforge:rate_limit"
	}
	config.DefaultProvider = strings.ToLower(strings.TrimSpace(config.DefaultProvider))
	if config.DefaultProvider == "" {
		config.DefaultProvider = "mock"
	}

	if config.CoinsPerUSDC <= 0 {
		log.Printf("level=warn component=config msg=\"invalid coins-per-usdc rate; using default\" rate=%d", config.CoinsPerUSDC)
		config.CoinsPerUSDC = 100
	}
	if config.AccessTokenTTLMin <= 0 {
		config.AccessTokenTTLMin = 60 * 24
	}
	if config.ResetTokenTTLMin <= 0 {
		config.ResetTokenTTLMin = 60
	}
	if config.ProviderTimeoutSec <= 0 {
		config.ProviderTimeoutSec = 120
	}
	if config.GenerateRateLimitPerMinute <= 0 {
		config.GenerateRateLimitPerMinute = 10
	}
	if config.TopUpClaimRateLimitPerMinute <= 0 {
		config.TopUpClaimRateLimitPerMinute = 30
	}

	return
}

// CORSOrigins splits the configured comma-separated origin list.
func (c Config) CORSOrigins() []string {
	parts := strings.Split(c.AllowedCORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
