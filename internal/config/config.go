// Package config loads the driver's YAML configuration file: connection
// parameters, pool shape, and socket options, with ${VAR} environment
// substitution and an optional hot-reload watcher.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the driver.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Pool       PoolConfig       `yaml:"pool"`
	Socket     SocketOptions    `yaml:"socket"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ConnectionConfig holds the dial and authentication parameters for every
// channel the pool opens.
type ConnectionConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Database           string `yaml:"dbname"`
	CharacterSet       string `yaml:"character_set"`
	UseCompression     bool   `yaml:"use_compression"`
	EnableDeprecateEOF bool   `yaml:"enable_deprecate_eof"`
}

// PoolConfig controls the shape and timing of the connection pool.
type PoolConfig struct {
	Size              int           `yaml:"size"`
	CheckoutTimeout   time.Duration `yaml:"checkout_timeout"`
	MaxOccupyTime     time.Duration `yaml:"max_occupy_time"`
	AcquireRetries    int           `yaml:"acquire_retries"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// SocketOptions controls the low-level TCP dial and I/O deadlines.
type SocketOptions struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// AdminConfig controls the optional metrics/health HTTP server.
type AdminConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// Redacted returns a copy of the ConnectionConfig with the password masked,
// safe to log.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	cp := c
	if cp.Password != "" {
		cp.Password = "***REDACTED***"
	}
	return cp
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values, leaving unmatched references untouched.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Connection.Port == 0 {
		cfg.Connection.Port = 3306
	}
	if cfg.Connection.CharacterSet == "" {
		cfg.Connection.CharacterSet = "utf8mb4"
	}
	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = 10
	}
	if cfg.Pool.CheckoutTimeout == 0 {
		cfg.Pool.CheckoutTimeout = 5 * time.Second
	}
	if cfg.Pool.MaxOccupyTime == 0 {
		cfg.Pool.MaxOccupyTime = 5 * time.Minute
	}
	if cfg.Pool.AcquireRetries == 0 {
		cfg.Pool.AcquireRetries = 3
	}
	if cfg.Socket.ConnectTimeout == 0 {
		cfg.Socket.ConnectTimeout = 5 * time.Second
	}
	if cfg.Socket.ReadTimeout == 0 {
		cfg.Socket.ReadTimeout = 30 * time.Second
	}
	if cfg.Socket.WriteTimeout == 0 {
		cfg.Socket.WriteTimeout = 30 * time.Second
	}
	if cfg.Admin.Bind == "" {
		cfg.Admin.Bind = "127.0.0.1"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 9308
	}
}

func validate(cfg *Config) error {
	if cfg.Connection.Host == "" {
		return fmt.Errorf("connection.host is required")
	}
	if cfg.Connection.Username == "" {
		return fmt.Errorf("connection.username is required")
	}
	if cfg.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// reloaded config, debouncing rapid successive writes.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Warn("config hot-reload failed", "error", err)
		return
	}

	slog.Info("configuration reloaded", "path", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
