// Package config holds the host daemon configuration, assembled from
// defaults, a YAML file, environment variables and flags, in that order.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig holds configuration for the uibridge host daemon.
type HostConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	GuestKey       string        `yaml:"guest_key"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	RedisAddr      string        `yaml:"redis_addr"`
	MCPAddr        string        `yaml:"mcp_addr"`
	MCPCommand     string        `yaml:"mcp_command"`
	ConfigFile     string        `yaml:"-"`
}

// SetDefaults initializes c with built-in defaults.
func (c *HostConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *HostConfig) ApplyEnv() {
	if v := getEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := getEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := getEnv("GUEST_KEY", ""); v != "" {
		c.GuestKey = v
	}
	if v := getEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := getEnv("MCP_ADDR", ""); v != "" {
		c.MCPAddr = v
	}
	if v := getEnv("MCP_COMMAND", ""); v != "" {
		c.MCPCommand = v
	}
	if v := getEnv("CALL_TIMEOUT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CallTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := getEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
}

// BindFlags binds command line flags using the current config values as
// defaults, so main can call flag.Parse().
func (c *HostConfig) BindFlags() {
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "host config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	flag.StringVar(&c.GuestKey, "guest-key", c.GuestKey, "shared key guests must present when registering; leave empty to disable")
	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for host state")
	flag.StringVar(&c.MCPAddr, "mcp-addr", c.MCPAddr, "streamable HTTP URL of the catalog MCP server")
	flag.StringVar(&c.MCPCommand, "mcp-command", c.MCPCommand, "command to spawn a stdio catalog MCP server when no URL is set")
	flag.Func("call-timeout", "default per-call timeout in seconds (0 disables)", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.CallTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	flag.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for active sessions on shutdown")
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// LoadFile populates the config from a YAML file.
func (c *HostConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
