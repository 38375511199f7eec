package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prsuperstar/superstar/portal"
)

const (
	defaultServer  = "http://localhost:5000/api"
	defaultTimeout = 30 * time.Second

	envServer  = "SUPERSTAR_SERVER"
	envDataDir = "SUPERSTAR_DATA_DIR"
)

// fileConfig is the optional YAML config file.
type fileConfig struct {
	Server    string `yaml:"server"`
	DataDir   string `yaml:"data_dir"`
	Timeout   string `yaml:"timeout"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
	Portal    struct {
		Addr string `yaml:"addr"`
	} `yaml:"portal"`
}

// settings is the resolved configuration for one command run.
type settings struct {
	Server     string
	DataDir    string
	Timeout    time.Duration
	LogLevel   string
	LogFormat  string
	LogFile    string
	PortalAddr string
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveSettings applies flag > environment > config file > default.
// changed reports whether a flag was given explicitly.
func resolveSettings(opts *rootOptions, changed func(string) bool, getenv func(string) string) (settings, error) {
	cfg := &fileConfig{}
	if opts.configPath != "" {
		var err error
		if cfg, err = loadConfigFile(opts.configPath); err != nil {
			return settings{}, err
		}
	}

	s := settings{
		Server:     pick(changed("server"), opts.server, getenv(envServer), cfg.Server, defaultServer),
		DataDir:    pick(changed("data-dir"), opts.dataDir, getenv(envDataDir), cfg.DataDir, ""),
		LogLevel:   pick(changed("log-level"), opts.logLevel, "", cfg.LogLevel, ""),
		LogFormat:  pick(changed("log-format"), opts.logFormat, "", cfg.LogFormat, "json"),
		LogFile:    pick(changed("log-file"), opts.logFile, "", cfg.LogFile, ""),
		PortalAddr: pick(false, "", "", cfg.Portal.Addr, portal.DefaultAddr),
		Timeout:    opts.timeout,
	}
	if !changed("timeout") && cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return settings{}, fmt.Errorf("config timeout: %w", err)
		}
		s.Timeout = d
	}
	if s.Timeout <= 0 {
		return settings{}, errors.New("timeout must be positive")
	}

	if s.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return settings{}, fmt.Errorf("locating home directory: %w", err)
		}
		s.DataDir = filepath.Join(home, ".superstar")
	}
	return s, nil
}

func pick(flagSet bool, flag, env, file, def string) string {
	switch {
	case flagSet:
		return flag
	case env != "":
		return env
	case file != "":
		return file
	default:
		return def
	}
}
