// Package config loads the YAML configuration of the validator.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/revocation"
	"github.com/subnoto/adesvalidator/source"
	"github.com/subnoto/adesvalidator/verify"
)

const (
	DefaultListenAddr     = ":8080"
	DefaultHTTPTimeout    = 10 * time.Second
	DefaultMaxUploadBytes = 32 << 20
)

// ErrConfigurationError is wrapped by every ConfigError.
var ErrConfigurationError = errors.New("configuration error")

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err == nil {
		return ErrConfigurationError
	}
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// TrustedListConfig points to a trusted list snapshot.
type TrustedListConfig struct {
	// Path is a YAML snapshot as read by source.LoadTrustedList.
	Path string `yaml:"path" json:"path"`
}

// KeyStoreConfig points to a PKCS#12 trust store of intermediate
// certificates.
type KeyStoreConfig struct {
	Path     string `yaml:"path" json:"path"`
	Password string `yaml:"password" json:"-"`
}

// CacheConfig configures the redis revocation cache.
type CacheConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"-"`
	DB       int           `yaml:"db" json:"db"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// RevocationConfig controls how revocation data missing from signatures is
// obtained.
type RevocationConfig struct {
	// Online enables OCSP and CRL requests to the URLs of the certificates.
	Online      bool          `yaml:"online" json:"online"`
	HTTPTimeout time.Duration `yaml:"http-timeout" json:"http_timeout"`
	// ProxyURL overrides the HTTP_PROXY and HTTPS_PROXY environment.
	ProxyURL string       `yaml:"proxy-url" json:"proxy_url,omitempty"`
	Cache    *CacheConfig `yaml:"cache" json:"cache,omitempty"`
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Listen         string `yaml:"listen" json:"listen"`
	MaxUploadBytes int64  `yaml:"max-upload-bytes" json:"max_upload_bytes"`
}

// Config is the complete validator configuration.
type Config struct {
	TrustedList *TrustedListConfig `yaml:"trusted-list" json:"trusted_list,omitempty"`
	KeyStore    *KeyStoreConfig    `yaml:"keystore" json:"keystore,omitempty"`
	Revocation  RevocationConfig   `yaml:"revocation" json:"revocation"`
	Server      ServerConfig       `yaml:"server" json:"server"`
	LogLevel    string             `yaml:"log-level" json:"log_level"`
}

// SetDefaults fills the zero values that have a default.
func (c *Config) SetDefaults() {
	if c.Revocation.HTTPTimeout == 0 {
		c.Revocation.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration without touching the filesystem or the
// network.
func (c *Config) Validate() error {
	if c.TrustedList != nil && c.TrustedList.Path == "" {
		return NewConfigError("trusted-list.path", "required field is missing")
	}
	if c.KeyStore != nil && c.KeyStore.Path == "" {
		return NewConfigError("keystore.path", "required field is missing")
	}
	if c.Revocation.HTTPTimeout < 0 {
		return NewConfigError("revocation.http-timeout", "must not be negative")
	}
	if c.Revocation.ProxyURL != "" {
		u, err := url.Parse(c.Revocation.ProxyURL)
		if err != nil {
			return &ConfigError{Field: "revocation.proxy-url", Message: "invalid URL", Err: err}
		}
		if u.Scheme == "" || u.Host == "" {
			return NewConfigError("revocation.proxy-url", "scheme and host are required")
		}
	}
	if cache := c.Revocation.Cache; cache != nil {
		if cache.Addr == "" {
			return NewConfigError("revocation.cache.addr", "required field is missing")
		}
		if cache.TTL < 0 {
			return NewConfigError("revocation.cache.ttl", "must not be negative")
		}
	}
	if c.Server.MaxUploadBytes < 0 {
		return NewConfigError("server.max-upload-bytes", "must not be negative")
	}
	if _, err := log.ParsePriority(c.LogLevel); err != nil {
		return &ConfigError{Field: "log-level", Message: err.Error(), Err: err}
	}
	return nil
}

// LoadConfig reads and validates the configuration in filename.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration, applies the defaults and
// validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Logger returns a logger at the configured level writing to w.
func (c *Config) Logger(w io.Writer) (log.Logger, error) {
	priority, err := log.ParsePriority(c.LogLevel)
	if err != nil {
		return nil, &ConfigError{Field: "log-level", Message: err.Error(), Err: err}
	}
	return log.NewLogrus(priority, w)
}

// VerifyOptions loads the trust material and builds the options of a
// validation run. The returned cleanup closes the revocation cache client.
func (c *Config) VerifyOptions() (*verify.VerifyOptions, func(), error) {
	opts := verify.DefaultVerifyOptions()
	opts.Clock = clockwork.NewRealClock()
	opts.EnableExternalRevocationCheck = c.Revocation.Online
	if c.Revocation.HTTPTimeout > 0 {
		opts.HTTPTimeout = c.Revocation.HTTPTimeout
	}
	if c.Revocation.ProxyURL != "" {
		u, err := url.Parse(c.Revocation.ProxyURL)
		if err != nil {
			return nil, nil, &ConfigError{Field: "revocation.proxy-url", Message: "invalid URL", Err: err}
		}
		opts.ProxyURL = u
	}

	if c.TrustedList != nil {
		tl, err := source.LoadTrustedList(c.TrustedList.Path)
		if err != nil {
			return nil, nil, &ConfigError{Field: "trusted-list.path", Message: "cannot load trusted list", Err: err}
		}
		opts.TrustedList = tl
	}
	if c.KeyStore != nil {
		ks, err := source.LoadKeyStore(c.KeyStore.Path, c.KeyStore.Password)
		if err != nil {
			return nil, nil, &ConfigError{Field: "keystore.path", Message: "cannot load keystore", Err: err}
		}
		opts.KeyStore = ks
	}

	cleanup := func() {}
	if cache := c.Revocation.Cache; cache != nil {
		client, err := revocation.NewRedisClient(cache.Addr, cache.Password, cache.DB)
		if err != nil {
			return nil, nil, &ConfigError{Field: "revocation.cache.addr", Message: "cannot create redis client", Err: err}
		}
		opts.RevocationCache = client
		opts.RevocationCacheTTL = cache.TTL
		cleanup = func() {
			if err := client.Close(); err != nil {
				log.Warning("failed to close revocation cache: ", err)
			}
		}
	}
	return opts, cleanup, nil
}
