package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is picked up from the working directory when --config is
// not given.
const DefaultConfigFile = "datapipe.yaml"

// Config is the CLI configuration file.
type Config struct {
	// DB is the SQLite database path.
	DB string `yaml:"db"`

	// Safemode controls whether delete and drop ask for interactive
	// confirmation when --yes is not given. On unless set to false.
	Safemode *bool `yaml:"safemode"`

	// SettingsTables maps an auto-populated target table to its settings
	// store. Targets not listed here use the derived default name.
	SettingsTables map[string]string `yaml:"settings_tables"`
}

// LoadConfig reads the YAML config file. An empty path falls back to
// DefaultConfigFile when it exists, else to an empty config.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &Config{}, nil
		}
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("reading config %s", path), err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("parsing config %s", path), err)
	}
	return cfg, nil
}

// resolve merges the config with command-line overrides and validates the
// result.
func (c *Config) resolve(opts *RootOptions) error {
	if opts.DB != "" {
		c.DB = opts.DB
	}
	if c.DB == "" {
		return NewExitError(ExitCommandError, "no database configured: set db in the config file or pass --db")
	}
	return nil
}

// safemodeOn reports whether mutating commands require confirmation.
func (c *Config) safemodeOn() bool {
	return c.Safemode == nil || *c.Safemode
}

// settingsTableFor returns the configured settings store for a target table.
func (c *Config) settingsTableFor(target string, fallback func(string) string) string {
	if name, ok := c.SettingsTables[target]; ok {
		return name
	}
	return fallback(target)
}
