package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config carries file-based defaults for the global flags plus engine
// tuning that has no flag of its own. Flags set on the command line win
// over config values.
type Config struct {
	Database              string `yaml:"database"`
	Driver                string `yaml:"driver"`
	TaskName              string `yaml:"task_name"`
	EventCacheSize        int    `yaml:"event_cache_size"`
	RecursiveDecommission *bool  `yaml:"recursive_decommission"`
}

// LoadConfig reads a yaml config file. Unknown keys are rejected so a
// typoed setting fails loudly instead of being silently ignored.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.EventCacheSize < 0 {
		return nil, fmt.Errorf("config %s: event_cache_size must not be negative", path)
	}
	return &cfg, nil
}

// applyConfig loads the --config file, if any, and fills in global flags
// the user did not set explicitly. The loaded config is retained for
// engine tuning settings.
func (o *RootOptions) applyConfig(cmd *cobra.Command) error {
	if o.Config == "" {
		return nil
	}
	cfg, err := LoadConfig(o.Config)
	if err != nil {
		return err
	}
	o.fileConfig = cfg

	flags := cmd.Flags()
	if !flags.Changed("db") && cfg.Database != "" {
		o.Database = cfg.Database
	}
	if !flags.Changed("driver") && cfg.Driver != "" {
		o.Driver = cfg.Driver
	}
	return nil
}
