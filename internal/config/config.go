package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config is the root of the YAML configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AnalysisSubmit string `mapstructure:"analysis_submit"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	CreditPriceID string `mapstructure:"credit_price_id"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	WorkerKey string `mapstructure:"worker_key"`
	AdminKey  string `mapstructure:"admin_key"`
}

type BusinessConfig struct {
	// Sessions stuck in PROCESSING longer than this are failed and refunded
	// by the sweep.
	StuckAfterMinutes int `mapstructure:"stuck_after_minutes"`
	// Unclaimed guest sessions expire this many hours after creation.
	GuestExpiryHours int `mapstructure:"guest_expiry_hours"`
	PackSmallCredits int `mapstructure:"pack_small_credits"`
	PackLargeCredits int `mapstructure:"pack_large_credits"`
	MaxRetryCount    int `mapstructure:"max_retry_count"`
}

var GlobalConfig *Config

// LoadConfig reads and parses the YAML configuration file.
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("failed to parse config file: %v", err)
	}

	GlobalConfig = config
	return config
}
