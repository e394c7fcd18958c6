package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"analyst-chat/internal/logging"
)

const (
	AppName   = "analyst-chat"
	EnvPrefix = "ANALYST_CHAT"

	DefaultGlamourStyle      = "dark"
	DefaultBackendURL        = "http://localhost:8000"
	DefaultMaxFiles          = 3
	DefaultMaxSessions       = 32
	DefaultStreamIdleTimeout = 10 * time.Minute
	DefaultRequestTimeout    = 60 * time.Second
	DefaultListenAddr        = ":3000"
	DefaultLogLevel          = "info"
)

const (
	KeyConfig            = "config"
	KeyBackendURL        = "backend-url"
	KeyProxyURL          = "proxy-url"
	KeyMaxFiles          = "max-files"
	KeyMaxSessions       = "max-sessions"
	KeyStreamIdleTimeout = "stream-idle-timeout"
	KeyRequestTimeout    = "request-timeout"
	KeyGlamourStyle      = "glamour-style"
	KeyNoColor           = "no-color"
	KeyExportDir         = "export-dir"
	KeyLogLevel          = "log-level"
	KeyLogFile           = "log-file"
	KeyListenAddr        = "listen"
)

type AppConfig struct {
	ConfigFile        string
	BackendURL        string
	ProxyURL          string
	MaxFiles          int
	MaxSessions       int
	StreamIdleTimeout time.Duration
	RequestTimeout    time.Duration
	GlamourStyle      string
	NoColor           bool
	ExportDir         string
	LogLevel          string
	LogFile           string
	ListenAddr        string
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyBackendURL, DefaultBackendURL)
	v.SetDefault(KeyMaxFiles, DefaultMaxFiles)
	v.SetDefault(KeyMaxSessions, DefaultMaxSessions)
	v.SetDefault(KeyStreamIdleTimeout, DefaultStreamIdleTimeout)
	v.SetDefault(KeyRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(KeyGlamourStyle, DefaultGlamourStyle)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	return v
}

// BindFlags registers the persistent flags and binds them into v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String(KeyConfig, "", "path to a YAML config file")
	fs.String(KeyBackendURL, DefaultBackendURL, "analysis backend base URL")
	fs.String(KeyProxyURL, "", "submit through the proxy at this URL")
	fs.Int(KeyMaxFiles, DefaultMaxFiles, "maximum attachments per message")
	fs.Int(KeyMaxSessions, DefaultMaxSessions, "sessions kept in memory")
	fs.Duration(KeyStreamIdleTimeout, DefaultStreamIdleTimeout, "close a silent stream after this long (0 disables)")
	fs.Duration(KeyRequestTimeout, DefaultRequestTimeout, "timeout for submissions and resource probes")
	fs.String(KeyGlamourStyle, DefaultGlamourStyle, "glamour style for markdown")
	fs.Bool(KeyNoColor, false, "disable colored output")
	fs.String(KeyExportDir, "", "override export output directory")
	fs.String(KeyLogLevel, DefaultLogLevel, "log level (trace, debug, info, warn, error)")
	fs.String(KeyLogFile, "", "write logs to this file")

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads the optional config file and returns the validated settings.
func Load(v *viper.Viper) (AppConfig, error) {
	path := v.GetString(KeyConfig)
	explicit := path != ""
	if !explicit {
		if def, err := DefaultConfigFilePath(); err == nil {
			path = def
		}
	}
	if path != "" {
		path = os.ExpandEnv(path)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if explicit {
			return AppConfig{}, fmt.Errorf("config file %s: %w", path, err)
		} else {
			path = ""
		}
	}

	cfg := AppConfig{
		ConfigFile:        path,
		BackendURL:        strings.TrimSpace(v.GetString(KeyBackendURL)),
		ProxyURL:          strings.TrimSpace(v.GetString(KeyProxyURL)),
		MaxFiles:          v.GetInt(KeyMaxFiles),
		MaxSessions:       v.GetInt(KeyMaxSessions),
		StreamIdleTimeout: v.GetDuration(KeyStreamIdleTimeout),
		RequestTimeout:    v.GetDuration(KeyRequestTimeout),
		GlamourStyle:      v.GetString(KeyGlamourStyle),
		NoColor:           v.GetBool(KeyNoColor),
		ExportDir:         v.GetString(KeyExportDir),
		LogLevel:          v.GetString(KeyLogLevel),
		LogFile:           v.GetString(KeyLogFile),
		ListenAddr:        v.GetString(KeyListenAddr),
	}
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = DefaultExportDir()
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if err := checkURL(KeyBackendURL, c.BackendURL); err != nil {
		return err
	}
	if c.ProxyURL != "" {
		if err := checkURL(KeyProxyURL, c.ProxyURL); err != nil {
			return err
		}
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyMaxFiles, c.MaxFiles)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyMaxSessions, c.MaxSessions)
	}
	if c.StreamIdleTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func checkURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}

// DefaultConfigFilePath is $XDG_CONFIG_HOME/analyst-chat/config.yaml, falling
// back to ~/.config.
func DefaultConfigFilePath() (string, error) {
	dir, set := os.LookupEnv("XDG_CONFIG_HOME")
	if !set || dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppName, "config.yaml"), nil
}

func DefaultExportDir() string {
	return "exports"
}
