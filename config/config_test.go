package config

import (
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/subnoto/adesvalidator/internal/testpki"
	"github.com/subnoto/adesvalidator/source"
)

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	expected := "config error in 'field': message"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
	if !errors.Is(err, ErrConfigurationError) {
		t.Error("Expected ConfigError to wrap ErrConfigurationError")
	}
}

func TestConfigErrorWithoutField(t *testing.T) {
	err := NewConfigError("", "general error")
	expected := "config error: general error"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
trusted-list:
  path: /etc/adesvalidator/tl.yaml
keystore:
  path: /etc/adesvalidator/intermediates.p12
  password: changeit
revocation:
  online: true
  http-timeout: 5s
  proxy-url: http://proxy.internal:3128
  cache:
    addr: localhost:6379
    ttl: 30m
server:
  listen: 127.0.0.1:9000
log-level: debug
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.TrustedList == nil || cfg.TrustedList.Path != "/etc/adesvalidator/tl.yaml" {
		t.Errorf("Unexpected trusted list config: %+v", cfg.TrustedList)
	}
	if cfg.KeyStore == nil || cfg.KeyStore.Password != "changeit" {
		t.Errorf("Unexpected keystore config: %+v", cfg.KeyStore)
	}
	if !cfg.Revocation.Online || cfg.Revocation.HTTPTimeout != 5*time.Second {
		t.Errorf("Unexpected revocation config: %+v", cfg.Revocation)
	}
	if cfg.Revocation.Cache == nil || cfg.Revocation.Cache.TTL != 30*time.Minute {
		t.Errorf("Unexpected cache config: %+v", cfg.Revocation.Cache)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Errorf("Expected listen address 127.0.0.1:9000, got %s", cfg.Server.Listen)
	}
	if cfg.Server.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Errorf("Expected default upload limit, got %d", cfg.Server.MaxUploadBytes)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Revocation.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultHTTPTimeout, cfg.Revocation.HTTPTimeout)
	}
	if cfg.Server.Listen != DefaultListenAddr {
		t.Errorf("Expected listen address %s, got %s", DefaultListenAddr, cfg.Server.Listen)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level info, got %s", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantField string
	}{
		{name: "trusted list without path", yaml: "trusted-list: {}", wantField: "trusted-list.path"},
		{name: "keystore without path", yaml: "keystore:\n  password: x", wantField: "keystore.path"},
		{name: "negative timeout", yaml: "revocation:\n  http-timeout: -1s", wantField: "revocation.http-timeout"},
		{name: "proxy without host", yaml: "revocation:\n  proxy-url: proxy.internal", wantField: "revocation.proxy-url"},
		{name: "cache without addr", yaml: "revocation:\n  cache:\n    ttl: 1h", wantField: "revocation.cache.addr"},
		{name: "unknown log level", yaml: "log-level: verbose", wantField: "log-level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected a ConfigError, got %v", err)
			}
			if cerr.Field != tt.wantField {
				t.Errorf("Expected field %s, got %s", tt.wantField, cerr.Field)
			}
		})
	}
}

func TestParseConfigRejectsInvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte("revocation: [unterminated"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Errorf("Expected a parse error, got %v", err)
	}
}

func writeTrustedList(t *testing.T, dir string) string {
	t.Helper()
	root := testpki.NewRoot(t, "Config Root CA")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw})

	var b strings.Builder
	b.WriteString("territory: EE\nwell-signed: true\nservices:\n")
	b.WriteString("  - tsp-name: Test TSP\n    service-name: Config Root CA\n    status: granted\n    certificates:\n      - |\n")
	for _, line := range strings.Split(strings.TrimSpace(string(block)), "\n") {
		b.WriteString("        " + line + "\n")
	}

	path := filepath.Join(dir, "tl.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("failed to write trusted list: %v", err)
	}
	return path
}

func TestVerifyOptions(t *testing.T) {
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	cfg := &Config{
		TrustedList: &TrustedListConfig{Path: writeTrustedList(t, dir)},
		Revocation: RevocationConfig{
			Online:   true,
			ProxyURL: "http://proxy.internal:3128",
			Cache:    &CacheConfig{Addr: mr.Addr(), TTL: time.Minute},
		},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	opts, cleanup, err := cfg.VerifyOptions()
	if err != nil {
		t.Fatalf("VerifyOptions failed: %v", err)
	}
	defer cleanup()

	tl, ok := opts.TrustedList.(*source.TrustedListSource)
	if !ok || len(tl.Certificates()) != 1 {
		t.Errorf("Expected the trusted list snapshot to be loaded, got %T", opts.TrustedList)
	}
	if !opts.EnableExternalRevocationCheck {
		t.Error("Expected online revocation checking")
	}
	if opts.ProxyURL == nil || opts.ProxyURL.Host != "proxy.internal:3128" {
		t.Errorf("Unexpected proxy URL %v", opts.ProxyURL)
	}
	if opts.RevocationCache == nil || opts.RevocationCacheTTL != time.Minute {
		t.Error("Expected the redis revocation cache to be configured")
	}
	if opts.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultHTTPTimeout, opts.HTTPTimeout)
	}
}

func TestVerifyOptionsMissingTrustedList(t *testing.T) {
	cfg := &Config{TrustedList: &TrustedListConfig{Path: filepath.Join(t.TempDir(), "missing.yaml")}}
	_, _, err := cfg.VerifyOptions()
	var cerr *ConfigError
	if !errors.As(err, &cerr) || cerr.Field != "trusted-list.path" {
		t.Fatalf("Expected a trusted-list.path ConfigError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected the file error to be wrapped, got %v", err)
	}
}

func TestLogger(t *testing.T) {
	var buf strings.Builder
	cfg := &Config{LogLevel: "warning"}
	logger, err := cfg.Logger(&buf)
	if err != nil {
		t.Fatalf("Logger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warning("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("Unexpected log output %q", buf.String())
	}
}
