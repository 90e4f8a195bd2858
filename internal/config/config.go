package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
	"szuro.net/plughost/internal/plugin"
)

const (
	TEXT_FORMAT = "text"
	JSON_FORMAT = "json"
)

const DEFAULT_PORT = 2020

type PlugHostConf struct {
	LogLevel    string                 `yaml:"log_level"`
	LogFormat   string                 `yaml:"log_format"`
	Runtime     plugin.Runtime         `yaml:"runtime"`
	OnDuplicate plugin.DuplicatePolicy `yaml:"on_duplicate"`
	Http        HTTPConf               `yaml:"http"`
	Plugins     []PluginConf           `yaml:"plugins"`
	slogLevel   slog.Level
}

type HTTPConf struct {
	ListenPort    int    `yaml:"listen_port"`
	ListenAddress string `yaml:"listen_address"`
}

// PluginConf is one plugin to load at startup. Config is handed to the
// instance's Init unchanged.
type PluginConf struct {
	Path    string         `yaml:"path"`
	Runtime plugin.Runtime `yaml:"runtime"`
	Config  any            `yaml:"config"`
}

// ParsePlugHostConfig reads and validates the YAML file at path.
func ParsePlugHostConfig(path string) (PlugHostConf, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return PlugHostConf{}, fmt.Errorf("cannot read config file: %w", err)
	}
	return ParseBytes(file)
}

// ParseBytes parses and validates a YAML document.
func ParseBytes(data []byte) (PlugHostConf, error) {
	conf := PlugHostConf{}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return PlugHostConf{}, fmt.Errorf("cannot parse config: %w", err)
	}

	conf.setLogLevel()
	conf.setPort()
	if err := conf.validate(); err != nil {
		return PlugHostConf{}, err
	}
	return conf, nil
}

func (pc *PlugHostConf) setLogLevel() {
	switch pc.LogLevel {
	case "DEBUG":
		pc.slogLevel = slog.LevelDebug
	case "INFO":
		pc.slogLevel = slog.LevelInfo
	case "WARN":
		pc.slogLevel = slog.LevelWarn
	case "ERROR":
		pc.slogLevel = slog.LevelError
	default:
		pc.slogLevel = slog.LevelInfo
	}
}

func (pc *PlugHostConf) GetLogLevel() slog.Level {
	return pc.slogLevel
}

func (pc *PlugHostConf) setPort() {
	if pc.Http.ListenPort == 0 {
		pc.Http.ListenPort = DEFAULT_PORT
	}
}

func (pc *PlugHostConf) setLogFormat() error {
	switch pc.LogFormat {
	case "":
		pc.LogFormat = TEXT_FORMAT
	case TEXT_FORMAT, JSON_FORMAT:
	default:
		return fmt.Errorf("unknown log format %q", pc.LogFormat)
	}
	return nil
}

func (pc *PlugHostConf) setRuntime() error {
	rt, err := plugin.ParseRuntime(string(pc.Runtime))
	if err != nil {
		return err
	}
	pc.Runtime = rt

	for i := range pc.Plugins {
		if pc.Plugins[i].Runtime == "" {
			pc.Plugins[i].Runtime = rt
			continue
		}
		prt, err := plugin.ParseRuntime(string(pc.Plugins[i].Runtime))
		if err != nil {
			return fmt.Errorf("plugin %s: %w", pc.Plugins[i].Path, err)
		}
		pc.Plugins[i].Runtime = prt
	}
	return nil
}

func (pc *PlugHostConf) setPolicy() error {
	p, err := plugin.ParseDuplicatePolicy(string(pc.OnDuplicate))
	if err != nil {
		return err
	}
	pc.OnDuplicate = p
	return nil
}

func (pc *PlugHostConf) validate() error {
	var errs []error
	if err := pc.setLogFormat(); err != nil {
		errs = append(errs, err)
	}
	if err := pc.setRuntime(); err != nil {
		errs = append(errs, err)
	}
	if err := pc.setPolicy(); err != nil {
		errs = append(errs, err)
	}
	if pc.Http.ListenPort < 0 || pc.Http.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid listen port %d", pc.Http.ListenPort))
	}

	for i, p := range pc.Plugins {
		if p.Path == "" {
			errs = append(errs, fmt.Errorf("plugin #%d: path is required", i))
		}
		// Process plugins receive their config as a protobuf Value.
		if _, err := structpb.NewValue(p.Config); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: config is not JSON-like: %w", p.Path, err))
		}
	}
	return errors.Join(errs...)
}
