package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AWS      AWSConfig      `yaml:"aws"`
	JWT      JWTConfig      `yaml:"jwt"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SMS      SMSConfig      `yaml:"sms"`
	APNS     APNSConfig     `yaml:"apns"`
	Queue    QueueConfig    `yaml:"queue"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// PublicURL is the base of the join links printed on company codes
	PublicURL string `yaml:"public_url"`
	// CORSOrigins lists allowed browser origins, empty allows any
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "memory"
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig holds redis configuration. An empty URL disables the job
// queue and pub/sub, falling back to inline delivery and polling.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AWSConfig holds S3 configuration for avatar storage
type AWSConfig struct {
	Region        string `yaml:"region"`
	S3Bucket      string `yaml:"s3_bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Endpoint      string `yaml:"endpoint"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TTLHours int    `yaml:"ttl_hours"`
}

// SMTPConfig holds email delivery configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// SMSConfig holds Twilio configuration
type SMSConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

// APNSConfig holds token based APNs configuration
type APNSConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// QueueConfig holds queue behaviour tunables
type QueueConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	// NoShowAfter expires entries left called this long, zero disables it
	NoShowAfter    time.Duration `yaml:"no_show_after"`
	GuestRetention time.Duration `yaml:"guest_retention"`
	// NotifyAhead is how many waiting entrants get a position update after a call
	NotifyAhead int `yaml:"notify_ahead"`
	// Observer selects how staff views learn about changes without Redis:
	// "poll" re-reads every PollInterval, "push" uses the in-process broker
	Observer string `yaml:"observer"`
}

// NotifyConfig holds the notification worker pool configuration
type NotifyConfig struct {
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"max_attempts"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads configuration from a YAML file. A .env file next to the
// process is loaded first when present, and environment variables override
// secrets from the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used for anything the file leaves unset
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			PublicURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			DBName:   "skipline",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		AWS:  AWSConfig{Region: "eu-west-3"},
		JWT:  JWTConfig{TTLHours: 24 * 30},
		SMTP: SMTPConfig{Port: 587},
		SMS:  SMSConfig{BaseURL: "https://api.twilio.com"},
		Queue: QueueConfig{
			PollInterval:   5 * time.Second,
			GuestRetention: 24 * time.Hour,
			NotifyAhead:    3,
			Observer:       "poll",
		},
		Notify: NotifyConfig{Workers: 2, MaxAttempts: 3},
		Log:    LogConfig{Level: "info"},
	}
}

func (c *Config) applyEnv() {
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.AWS.AccessKey, "AWS_ACCESS_KEY")
	setString(&c.AWS.SecretKey, "AWS_SECRET_KEY")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMS.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.SMS.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Queue.PollInterval <= 0 {
		return errors.New("queue.poll_interval must be positive")
	}
	if c.Queue.NoShowAfter < 0 {
		return errors.New("queue.no_show_after must not be negative")
	}
	if c.Queue.Observer != "poll" && c.Queue.Observer != "push" {
		return fmt.Errorf("unknown queue.observer %q", c.Queue.Observer)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.MaxConns)
}

// Addr returns the SMTP server address
func (c *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether SMTP delivery is configured
func (c *SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// Enabled reports whether Twilio delivery is configured
func (c *SMSConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != ""
}

// Enabled reports whether APNs delivery is configured
func (c *APNSConfig) Enabled() bool {
	return c.KeyPath != "" && c.KeyID != "" && c.TeamID != ""
}

// Enabled reports whether S3 uploads are configured
func (c *AWSConfig) Enabled() bool {
	return c.S3Bucket != ""
}
