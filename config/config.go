package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the negotiation service
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Booking     BookingConfig     `mapstructure:"booking"`
	Storage     StorageConfig     `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configuration. Backend selects the
// provider explicitly; it is never inferred from which credential happens to
// be present in the environment.
type LLMConfig struct {
	Backend     string        `mapstructure:"backend"` // openai or gemini
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Backend) == "" {
		return fmt.Errorf("llm.backend is required (openai or gemini)")
	}
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	return nil
}

// Normalize applies defaults for unset LLM values.
func (l LLMConfig) Normalize() LLMConfig {
	if l.Model == "" {
		switch l.Backend {
		case "gemini":
			l.Model = "gemini-2.0-flash"
		default:
			l.Model = "gpt-4o-mini"
		}
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 4096
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	return l
}

// NegotiationConfig tunes the group negotiation rounds.
type NegotiationConfig struct {
	DefaultTurnsPerParticipant int `mapstructure:"default_turns_per_participant"`
	MaxTurnsPerParticipant     int `mapstructure:"max_turns_per_participant"`
	MemoryRecallTopK           int `mapstructure:"memory_recall_top_k"`
}

// Normalize applies defaults mirroring the onboarding limits.
func (n NegotiationConfig) Normalize() NegotiationConfig {
	if n.DefaultTurnsPerParticipant <= 0 {
		n.DefaultTurnsPerParticipant = 10
	}
	if n.MaxTurnsPerParticipant <= 0 {
		n.MaxTurnsPerParticipant = 50
	}
	if n.MemoryRecallTopK <= 0 {
		n.MemoryRecallTopK = 3
	}
	return n
}

// NotifyConfig contains the email channel settings.
type NotifyConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	InboxAddress string        `mapstructure:"inbox_address"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ReminderCron string        `mapstructure:"reminder_cron"`
}

// Normalize applies defaults for the email channel.
func (n NotifyConfig) Normalize() NotifyConfig {
	if n.BaseURL == "" {
		n.BaseURL = "https://api.agentmail.to/v0"
	}
	if n.Timeout <= 0 {
		n.Timeout = 30 * time.Second
	}
	if n.ReminderCron == "" {
		n.ReminderCron = "0 */6 * * *"
	}
	return n
}

// BookingConfig tunes the browser-automation booking client.
type BookingConfig struct {
	SiteURL  string        `mapstructure:"site_url"`
	Headless bool          `mapstructure:"headless"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for the booking client.
func (b BookingConfig) Normalize() BookingConfig {
	if b.SiteURL == "" {
		b.SiteURL = "https://www.expedia.com"
	}
	if b.Timeout <= 0 {
		b.Timeout = 5 * time.Minute
	}
	return b
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("llm.backend", "openai")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("negotiation.default_turns_per_participant", 10)
	viper.SetDefault("negotiation.max_turns_per_participant", 50)
	viper.SetDefault("booking.headless", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CARAVAN")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (CARAVAN_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.LLM = config.LLM.Normalize()
	config.Negotiation = config.Negotiation.Normalize()
	config.Notify = config.Notify.Normalize()
	config.Booking = config.Booking.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
