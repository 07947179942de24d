package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type config struct {
	Title       string
	Database    string
	UserAgent   string `toml:"user-agent" yaml:"user-agent"`
	HTTPTimeout string `toml:"http-timeout" yaml:"http-timeout"`
	LogLevel    string `toml:"log-level" yaml:"log-level"`
	Admin       *admin
	Syslog      *syslogConfig
	Sources     []source
}

type admin struct {
	Address string
}

type syslogConfig struct {
	Network  string
	Address  string
	Priority int
	Tag      string
	Level    string
}

type source struct {
	ID        int64
	Name      string
	Location  string
	Disabled  bool
	Whitelist bool
}

// loadConfig reads a config file and returns the decoded structure. Files
// ending in .yaml or .yml are read as YAML, everything else as TOML.
func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&c)
	default:
		_, err = toml.NewDecoder(f).Decode(&c)
	}
	if err != nil {
		return c, errors.Wrapf(err, "failed to parse '%s'", name)
	}
	return c, c.validate()
}

func (c config) validate() error {
	if c.Database == "" {
		return errors.New("no database configured")
	}
	if _, err := c.httpTimeout(); err != nil {
		return errors.Wrap(err, "invalid http-timeout")
	}
	if c.Syslog != nil && c.Syslog.Level != "" {
		if _, err := logrus.ParseLevel(c.Syslog.Level); err != nil {
			return errors.Wrap(err, "invalid syslog level")
		}
	}
	ids := make(map[int64]bool)
	for _, s := range c.Sources {
		if s.ID <= 0 {
			return errors.Errorf("source '%s' needs a positive id", s.Name)
		}
		if ids[s.ID] {
			return errors.Errorf("duplicate source id %d", s.ID)
		}
		ids[s.ID] = true
		if s.Location == "" {
			return errors.Errorf("source '%s' has no location", s.Name)
		}
	}
	return nil
}

func (c config) httpTimeout() (time.Duration, error) {
	if c.HTTPTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.HTTPTimeout)
}
