// Package config loads the stores file used by storectl: the root URIs to
// open, their properties and the static parameters for ${name} placeholders.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned for a stores file that parses but declares
// stores storectl cannot open.
var ErrInvalidConfig = errors.New("invalid stores file")

// Config is the decoded stores file.
type Config struct {
	Params map[string]string `mapstructure:"params"`
	Stores []StoreConfig     `mapstructure:"stores"`
	Log    LogConfig         `mapstructure:"log"`
}

// StoreConfig declares one store: its root URI, which may hold ${name}
// placeholders, and the properties it is opened with.
type StoreConfig struct {
	Root       string            `mapstructure:"root"`
	Properties map[string]string `mapstructure:"properties"`
}

// LogConfig is the log file section. Command line flags take precedence.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads a YAML, TOML or JSON stores file. The format follows the file
// extension.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no path given", ErrInvalidConfig)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read stores file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode stores file: %w", err)
	}

	for i := range cfg.Stores {
		cfg.Stores[i].Root = strings.TrimSpace(cfg.Stores[i].Root)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.maxSize", 100)
	v.SetDefault("log.maxBackups", 10)
	v.SetDefault("log.compress", true)
}

// Validate checks that every store has a root and that no root is declared
// twice.
func (c *Config) Validate() error {
	seen := make(map[string]int, len(c.Stores))
	for i, s := range c.Stores {
		if s.Root == "" {
			return fmt.Errorf("%w: stores[%d]: root is required", ErrInvalidConfig, i)
		}
		if j, dup := seen[s.Root]; dup {
			return fmt.Errorf("%w: stores[%d]: root %q already declared by stores[%d]", ErrInvalidConfig, i, s.Root, j)
		}
		seen[s.Root] = i
	}
	return nil
}

// Roots returns the configured root URIs in file order.
func (c *Config) Roots() []string {
	roots := make([]string, 0, len(c.Stores))
	for _, s := range c.Stores {
		roots = append(roots, s.Root)
	}
	return roots
}

// Lookup returns the store declared for root.
func (c *Config) Lookup(root string) (StoreConfig, bool) {
	for _, s := range c.Stores {
		if s.Root == root {
			return s, true
		}
	}
	return StoreConfig{}, false
}

// Configuration returns the store properties keyed the way the stores
// expect them. Viper folds keys to lower case, so known property names get
// their original spelling back.
func (s StoreConfig) Configuration() interfaces.Configuration {
	out := make(interfaces.Configuration, len(s.Properties))
	for k, v := range s.Properties {
		if canonical, ok := knownKeys[strings.ToLower(k)]; ok {
			k = canonical
		}
		out[k] = v
	}
	return out
}

var knownKeys = func() map[string]string {
	keys := []string{
		interfaces.KeyBaseURI,
		interfaces.KeyReadOnly,
		interfaces.KeyMaxRetryOnFailure,
		interfaces.KeySleepBeforeRetry,
		interfaces.KeyBufferSize,
		interfaces.KeyCharset,
		interfaces.KeyClassloader,
		interfaces.KeyCacheManagerRef,
		interfaces.KeyUser,
		interfaces.KeyPassword,
		interfaces.KeyUseCaches,
		interfaces.KeyConnectTimeout,
		interfaces.KeyReadTimeout,
		interfaces.KeyProxySet,
		interfaces.KeyProxyHost,
		interfaces.KeyProxyPort,
		interfaces.KeyProxyUser,
		interfaces.KeyProxyPassword,
		interfaces.KeyNonProxyHosts,
		// backend specific
		"bindStyle", "table", "endpoint", "region", "pathStyle",
		"knownHosts", "insecureHostKey", "token", "tls", "tlsSkipVerify", "webappRoot",
	}
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = k
	}
	return m
}()
