// Package config wraps viper with the server's default settings. Every
// subsystem reads its knobs from the same *Config so a single yaml file
// (or environment) drives the whole process.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is a wrapper around a viper config
type Config struct {
	config *viper.Viper
}

// NewConfig creates a new config with a given viper config if given
func NewConfig(cfgs ...*viper.Viper) *Config {
	var cfg *viper.Viper
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	} else {
		cfg = viper.New()
	}

	cfg.SetEnvPrefix("geeo")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()
	c := &Config{config: cfg}
	c.fillDefaultValues()
	return c
}

// Load reads the named yaml file on top of the defaults. A missing file
// is not an error; env vars and defaults still apply.
func Load(path string) (*Config, error) {
	cfg := viper.New()
	if path != "" {
		cfg.SetConfigFile(path)
		if err := cfg.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}
	return NewConfig(cfg), nil
}

func (c *Config) fillDefaultValues() {
	defaultsMap := map[string]interface{}{
		"geeo.ws.addr":             ":8000",
		"geeo.ws.readBufferSize":   4096,
		"geeo.ws.writeBufferSize":  4096,
		"geeo.ws.maxMessageBytes":  65536,
		"geeo.ws.pongWait":         60 * time.Second,
		"geeo.ws.writeWait":        10 * time.Second,
		"geeo.session.buffer":      256,
		"geeo.processor.buffer":    8192,
		"geeo.protocol.strikes":    0,
		"geeo.token.secret":        "",
		"geeo.token.expiry":        24 * time.Hour,
		"geeo.http.devRoutes":      false,
		"geeo.metrics.enabled":     true,
		"geeo.webhook.url":         "",
		"geeo.webhook.buffer":      1024,
		"geeo.webhook.workers":     4,
		"geeo.webhook.retries":     3,
		"geeo.webhook.backoff":     time.Second,
		"geeo.webhook.timeout":     5 * time.Second,
		"storage.redis.addr":       "",
		"storage.redis.password":   "",
		"storage.redis.db":         0,
		"storage.redis.keyPrefix":  "geeo",
		"logger.level":             "info",
		"logger.dir":               "",
		"logger.stdout":            true,
		"logger.rotation":          true,
		"logger.maxsize":           256,
		"logger.maxbackups":        10,
		"logger.maxage":            7,
	}

	for param := range defaultsMap {
		if c.config.Get(param) == nil {
			c.config.SetDefault(param, defaultsMap[param])
		}
	}
}

// Viper returns the underlying viper instance, for subsystems that take
// a *viper.Viper directly.
func (c *Config) Viper() *viper.Viper {
	return c.config
}

// GetDuration returns a duration from the inner config
func (c *Config) GetDuration(s string) time.Duration {
	return c.config.GetDuration(s)
}

// GetString returns a string from the inner config
func (c *Config) GetString(s string) string {
	return c.config.GetString(s)
}

// GetInt returns an int from the inner config
func (c *Config) GetInt(s string) int {
	return c.config.GetInt(s)
}

// GetBool returns a boolean from the inner config
func (c *Config) GetBool(s string) bool {
	return c.config.GetBool(s)
}
