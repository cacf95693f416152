package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa toda la configuración del servicio.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Mail         MailConfig         `mapstructure:"mail"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Affiliations AffiliationsConfig `mapstructure:"affiliations"`
	Access       AccessConfig       `mapstructure:"access"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig: si DSN está vacío se usan repos in-memory.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig: si Addr viene, los OTP se guardan en Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MailConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	From    string `mapstructure:"from"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer"`
	OdinBaseURL string `mapstructure:"odin_base_url"`
	OdinAPIKey  string `mapstructure:"odin_api_key"`
}

type AffiliationsConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type AccessConfig struct {
	OTPTTL                    time.Duration `mapstructure:"otp_ttl"`
	OTPMaxAttempts            int           `mapstructure:"otp_max_attempts"`
	OTPGrantTTL               time.Duration `mapstructure:"otp_grant_ttl"`
	ConsentGrantTTL           time.Duration `mapstructure:"consent_grant_ttl"`
	EmergencyGrantTTL         time.Duration `mapstructure:"emergency_grant_ttl"`
	RequestDefaultHours       int           `mapstructure:"request_default_hours"`
	EmergencyMinJustification int           `mapstructure:"emergency_min_justification"`
	SweepInterval             time.Duration `mapstructure:"sweep_interval"`
	BcryptCost                int           `mapstructure:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registra los valores por defecto en v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "passport.notifications")

	// AutomaticEnv solo aplica en Unmarshal a keys conocidas, por eso los "" explícitos.
	v.SetDefault("mail.base_url", "")
	v.SetDefault("mail.api_key", "")
	v.SetDefault("mail.from", "no-reply@patientpassport.local")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "patient-passport")
	v.SetDefault("auth.odin_base_url", "")
	v.SetDefault("auth.odin_api_key", "")

	v.SetDefault("affiliations.base_url", "")
	v.SetDefault("affiliations.api_key", "")

	v.SetDefault("access.otp_ttl", 10*time.Minute)
	v.SetDefault("access.otp_max_attempts", 3)
	v.SetDefault("access.otp_grant_ttl", time.Hour)
	v.SetDefault("access.consent_grant_ttl", 24*time.Hour)
	v.SetDefault("access.emergency_grant_ttl", time.Hour)
	v.SetDefault("access.request_default_hours", 24)
	v.SetDefault("access.emergency_min_justification", 20)
	v.SetDefault("access.sweep_interval", time.Minute)
	v.SetDefault("access.bcrypt_cost", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load lee config.yaml (opcional) + env vars. cfgFile vacío => busca en . y /etc/patient-passport.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	if strings.TrimSpace(cfgFile) != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/patient-passport")
	}

	// PASSPORT_DATABASE_DSN, PASSPORT_ACCESS_OTP_TTL, ...
	v.SetEnvPrefix("PASSPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Access.OTPTTL <= 0 || c.Access.OTPGrantTTL <= 0 || c.Access.ConsentGrantTTL <= 0 || c.Access.EmergencyGrantTTL <= 0 {
		return fmt.Errorf("access ttls must be positive")
	}
	if c.Access.OTPMaxAttempts <= 0 {
		return fmt.Errorf("access.otp_max_attempts must be positive")
	}
	if c.Access.RequestDefaultHours < 1 || c.Access.RequestDefaultHours > 168 {
		return fmt.Errorf("access.request_default_hours must be between 1 and 168")
	}
	if len(c.Auth.JWTSecret) > 0 && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	return nil
}
