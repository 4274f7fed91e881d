package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LocalConfigFile is the project-local developer config filename.
const LocalConfigFile = "sb.local.toml"

// Settings are the fetch options a user can set in a config file or on
// the command line. Keys match the command line flag names.
type Settings struct {
	Quiet      bool     `toml:"quiet,omitempty" mapstructure:"quiet"`
	DryRun     bool     `toml:"dry-run,omitempty" mapstructure:"dry-run"`
	NoDownload bool     `toml:"no-download,omitempty" mapstructure:"no-download"`
	Trace      bool     `toml:"trace,omitempty" mapstructure:"trace"`
	URLs       []string `toml:"url,omitempty" mapstructure:"url"` // mirror bases, tried in order
	Log        string   `toml:"log,omitempty" mapstructure:"log"`
	Jobs       int      `toml:"jobs,omitempty" mapstructure:"jobs"`
}

// Options exposes resolved Settings to the download core.
type Options struct {
	s Settings
}

func NewOptions(s Settings) *Options {
	if s.Jobs < 1 {
		s.Jobs = 1
	}
	return &Options{s: s}
}

func (o *Options) Quiet() bool            { return o.s.Quiet }
func (o *Options) DryRun() bool           { return o.s.DryRun }
func (o *Options) DownloadDisabled() bool { return o.s.NoDownload }
func (o *Options) Trace() bool            { return o.s.Trace }
func (o *Options) URLs() []string         { return o.s.URLs }
func (o *Options) LogFile() string        { return o.s.Log }
func (o *Options) Jobs() int              { return o.s.Jobs }

// Settings returns a copy of the resolved settings.
func (o *Options) Settings() Settings { return o.s }

// LoadOptions resolves options using Viper's merge semantics:
// command line flags > sb.local.toml (project-local) > ~/.sb/config.toml (global).
// Only flags the user actually set override the files.
func LoadOptions(flags *pflag.FlagSet) (*Options, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	globalPath := filepath.Join(home, ".sb", "config.toml")
	return loadOptions(flags, globalPath, LocalConfigFile)
}

// loadOptions is the internal implementation that accepts explicit paths,
// making it testable without touching the real home directory.
func loadOptions(flags *pflag.FlagSet, globalPath, localPath string) (*Options, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetDefault("jobs", 1)

	// Lowest priority: global config
	v.SetConfigFile(globalPath)
	// Read global config; ignore if missing.
	_ = v.ReadInConfig()

	// Higher priority: project-local config
	if _, err := os.Stat(localPath); err == nil {
		v.SetConfigFile(localPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", localPath, err)
		}
	}

	// Highest priority: CLI flags
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshaling options: %w", err)
	}

	return NewOptions(s), nil
}

// WriteLocalSettings persists settings to sb.local.toml in the given
// project directory.
func WriteLocalSettings(projectDir string, s Settings) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	path := filepath.Join(projectDir, LocalConfigFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
