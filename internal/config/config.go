// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail composer.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// defaultMaxSize caps a composed message at 25 MB.
const defaultMaxSize = "25MB"

// Providers lists the accepted values of Config.Provider. Empty means
// auto-detect.
var Providers = []string{"stdout", "smtp", "sendmail", "ses", "graph"}

// Config holds the complete application configuration.
type Config struct {
	Provider string         `yaml:"provider"`
	Message  MessageConfig  `yaml:"message"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Sendmail SendmailConfig `yaml:"sendmail"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	S3       S3Config       `yaml:"s3"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MessageConfig holds defaults applied to every composed message.
type MessageConfig struct {
	From string `yaml:"from"`

	// MaxSize is a human-readable size such as "10MB". Composed messages
	// larger than this are not handed to a provider.
	MaxSize string `yaml:"max_size"`
}

// SMTPConfig holds SMTP relay configuration.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	StartTLS           bool   `yaml:"starttls"`
	RequireTLS         bool   `yaml:"require_tls"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Helo               string `yaml:"helo"`
}

// SendmailConfig holds the local sendmail binary configuration.
type SendmailConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// S3Config enables s3:// attachment references.
type S3Config struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DeliveryConfig holds provider-independent delivery settings.
type DeliveryConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, cfg.Validate()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work at all.
func (c *Config) Validate() error {
	var errs []error

	if c.Provider != "" && !slices.Contains(Providers, c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(Providers, ", ")))
	}
	if c.Delivery.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("delivery.max_retries must not be negative, got %d", c.Delivery.MaxRetries))
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp.port out of range: %d", c.SMTP.Port))
	}
	if _, err := c.MaxMessageSize(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// MaxMessageSize returns message.max_size in bytes. Zero means no limit.
func (c *Config) MaxMessageSize() (int64, error) {
	if c.Message.MaxSize == "" {
		return 0, nil
	}
	size, err := units.FromHumanSize(c.Message.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid message.max_size %q: %w", c.Message.MaxSize, err)
	}
	return size, nil
}

// SMTPAddr returns the relay address as host:port.
func (c *Config) SMTPAddr() string {
	return net.JoinHostPort(c.SMTP.Host, strconv.Itoa(c.SMTP.Port))
}

// SMTPConfigured returns true if a relay host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if an SES region is set. Credentials may come
// from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all three Graph API credentials are set.
// The sender falls back to the message From address.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// S3Configured returns true if s3:// attachment references can be resolved.
func (c *Config) S3Configured() bool {
	return c.S3.Region != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Message.MaxSize = defaultMaxSize
	c.SMTP.Port = 587
	c.SMTP.StartTLS = true
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("MESSAGE_FROM"); v != "" {
		c.Message.From = v
	}
	if v := os.Getenv("MESSAGE_MAX_SIZE"); v != "" {
		c.Message.MaxSize = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	envInt("SMTP_PORT", &c.SMTP.Port)
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	envBool("SMTP_STARTTLS", &c.SMTP.StartTLS)
	envBool("SMTP_REQUIRE_TLS", &c.SMTP.RequireTLS)
	if v := os.Getenv("SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}
	envBool("SMTP_INSECURE_SKIP_VERIFY", &c.SMTP.InsecureSkipVerify)
	if v := os.Getenv("SMTP_HELO"); v != "" {
		c.SMTP.Helo = v
	}

	if v := os.Getenv("SENDMAIL_PATH"); v != "" {
		c.Sendmail.Path = v
	}
	if v := os.Getenv("SENDMAIL_ARGS"); v != "" {
		c.Sendmail.Args = strings.Fields(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		c.S3.AccessKeyID = v
	}
	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		c.S3.SecretAccessKey = v
	}

	envInt("DELIVERY_MAX_RETRIES", &c.Delivery.MaxRetries)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// envInt overrides dst when key holds a valid integer. Invalid values are
// ignored.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// envBool overrides dst when key holds a value strconv.ParseBool accepts.
func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
