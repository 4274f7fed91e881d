package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ManifestFileName is the manifest filename declaring a build's sources.
const ManifestFileName = "sb.toml"

type Config struct {
	Project ProjectConfig     `toml:"project"`
	Macros  map[string]string `toml:"macros,omitempty"`
	Sources []SourceEntry     `toml:"sources,omitempty"`
	Patches []SourceEntry     `toml:"patches,omitempty"`
}

type ProjectConfig struct {
	Name string `toml:"name"`
}

// SourceEntry is one declared source or patch. URL may contain macros,
// e.g. "http://ftp.gnu.org/gnu/gcc/gcc-%{version}/gcc-%{version}.tar.bz2".
type SourceEntry struct {
	URL string `toml:"url"`
}

func UnmarshalConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	err := toml.Unmarshal(data, cfg)

	return cfg, err
}

func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := UnmarshalConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func SaveFile(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// GlobalConfigDir returns the path to ~/.sb, creating it if necessary.
func GlobalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	dir := filepath.Join(home, ".sb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}
