package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains runtime configuration and vendor selection.
type Config struct {
	// Vendor keys: "retell" (hosted API) or "local" (self-signed tokens)
	ProvisionerVendor string `mapstructure:"provisioner_vendor"`

	// Generic map for vendor-specific settings
	VendorSettings map[string]map[string]string `mapstructure:"vendor_settings"`

	HTTPAddr           string        `mapstructure:"http_addr"`
	DatabasePath       string        `mapstructure:"database_path"`
	ProvisionerTimeout time.Duration `mapstructure:"provisioner_timeout"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`

	Logging LoggingConfig `mapstructure:"logging"`

	v *viper.Viper
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	File   string
	Pretty bool
}

const (
	// APIKeyEnv names the secret credential used against the provisioning API.
	APIKeyEnv = "RETELL_API_KEY"

	defaultRetellBaseURL = "https://api.retellai.com"
)

// LoadFromEnv constructs a Config reading from environment variables, falling
// back to a .env file in the current working directory.
// Supported env vars:
//
//	PROVISIONER_VENDOR   - retell (default) or local
//	RETELL_API_KEY       - secret credential; read on every APIKey call
//	RETELL_BASE_URL      - provisioning API base URL
//	PROVISIONER_TIMEOUT  - e.g. 30s
//	SIGNALING_URL        - websocket URL handed to call clients (local vendor)
//	HTTP_ADDR, DATABASE_PATH, CORS_ALLOWED_ORIGINS
//	LOG_LEVEL, LOG_FILE, LOG_PRETTY
func LoadFromEnv() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		return Load("")
	}
	return Load(filepath.Join(cwd, ".env"))
}

// Load builds a Config from the environment and the given dotenv file. A
// missing file is not an error; environment variables always win.
func Load(dotEnvPath string) *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PROVISIONER_VENDOR", "retell")
	v.SetDefault("RETELL_BASE_URL", defaultRetellBaseURL)
	v.SetDefault("PROVISIONER_TIMEOUT", "30s")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			v.SetConfigFile(dotEnvPath)
			v.SetConfigType("env")
			// a malformed .env behaves like an absent one
			_ = v.ReadInConfig()
		}
	}

	cfg := &Config{
		ProvisionerVendor:  strings.ToLower(v.GetString("PROVISIONER_VENDOR")),
		VendorSettings:     make(map[string]map[string]string),
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		DatabasePath:       v.GetString("DATABASE_PATH"),
		ProvisionerTimeout: v.GetDuration("PROVISIONER_TIMEOUT"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			File:   v.GetString("LOG_FILE"),
			Pretty: v.GetBool("LOG_PRETTY"),
		},
		v: v,
	}
	if cfg.ProvisionerTimeout <= 0 {
		cfg.ProvisionerTimeout = 30 * time.Second
	}

	cfg.setVendor("retell", "base_url", v.GetString("RETELL_BASE_URL"))
	cfg.setVendor("local", "signaling_url", v.GetString("SIGNALING_URL"))
	cfg.setVendor("local", "ttl", v.GetString("LOCAL_TOKEN_TTL"))

	return cfg
}

// APIKey returns the provisioning secret. It is looked up on every call so a
// rotated or removed credential takes effect without a restart.
func (c *Config) APIKey() string {
	if c == nil || c.v == nil {
		return ""
	}
	return c.v.GetString(APIKeyEnv)
}

// Vendor returns a vendor-specific setting or "" when unset.
func (c *Config) Vendor(vendor, key string) string {
	if c == nil || c.VendorSettings == nil {
		return ""
	}
	return c.VendorSettings[vendor][key]
}

func (c *Config) setVendor(vendor, key, value string) {
	if value == "" {
		return
	}
	if _, ok := c.VendorSettings[vendor]; !ok {
		c.VendorSettings[vendor] = make(map[string]string)
	}
	c.VendorSettings[vendor][key] = value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
