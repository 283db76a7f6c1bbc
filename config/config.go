// Package config loads controller settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/graver/machine"
)

// Config holds file settings. Unset fields leave the controller default.
type Config struct {
	Port       string         `yaml:"port"`
	BaudRate   *int           `yaml:"baud_rate"`
	Timeout    *time.Duration `yaml:"timeout"`
	Terminator string         `yaml:"terminator"`
	OKToken    string         `yaml:"ok_token"`
	FeedRate   *float64       `yaml:"feed_rate"`
	ToolSize   *float64       `yaml:"tool_size"`
	Endstops   *bool          `yaml:"endstops"`

	// SPJSURL routes the connection through a serial-port-json-server.
	SPJSURL       string `yaml:"spjs_url"`
	Journal       string `yaml:"journal"`
	ListenAddress string `yaml:"listen_address"`
}

// Load reads the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Apply passes every set value through the controller's setters, so the
// same validation applies as for programmatic use. It must be called
// before the connection is opened.
func (cfg *Config) Apply(m *machine.Machine) error {
	set := func(key string, err error) error {
		if err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
		return nil
	}
	steps := []func() error{
		func() error {
			if cfg.Port == "" {
				return nil
			}
			return set("port", m.SetPort(cfg.Port))
		},
		func() error {
			if cfg.BaudRate == nil {
				return nil
			}
			return set("baud_rate", m.SetBaudRate(*cfg.BaudRate))
		},
		func() error {
			if cfg.Timeout == nil {
				return nil
			}
			return set("timeout", m.SetTimeout(*cfg.Timeout))
		},
		func() error {
			if cfg.Terminator == "" {
				return nil
			}
			return set("terminator", m.SetTerminator(cfg.Terminator))
		},
		func() error {
			if cfg.OKToken == "" {
				return nil
			}
			return set("ok_token", m.SetOKToken(cfg.OKToken))
		},
		func() error {
			if cfg.FeedRate == nil {
				return nil
			}
			return set("feed_rate", m.SetFeedRate(*cfg.FeedRate))
		},
		func() error {
			if cfg.ToolSize == nil {
				return nil
			}
			return set("tool_size", m.SetToolSize(*cfg.ToolSize))
		},
	}
	for _, step := range steps {
		err := step()
		if err != nil {
			return err
		}
	}
	if cfg.Endstops != nil {
		if *cfg.Endstops {
			m.EnableEndstops()
		} else {
			m.DisableEndstops()
		}
	}
	return nil
}
