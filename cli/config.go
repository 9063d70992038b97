package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the optional YAML configuration file,
// discovered in the working directory or under ~/.adflow/.
const ConfigFileName = "adflow.yaml"

// FileConfig is the on-disk configuration for the serve command. Every field
// is optional; flags override file values.
type FileConfig struct {
	Server struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		CORSOrigin   string        `yaml:"cors_origin"`
		MaxBody      int64         `yaml:"max_body"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Storage struct {
		SQLitePath      string        `yaml:"sqlite_path"`
		Retention       time.Duration `yaml:"retention"`
		JanitorSchedule string        `yaml:"janitor_schedule"`
	} `yaml:"storage"`

	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		OTLPInsecure bool   `yaml:"otlp_insecure"`
	} `yaml:"telemetry"`
}

// ResolveFileConfig loads the effective file configuration. An explicit path
// wins and must exist. Otherwise ./adflow.yaml is layered over
// ~/.adflow/adflow.yaml: a value set in the working-directory file wins and
// the home file fills the rest. Returns found=false when no file exists.
func ResolveFileConfig(explicit string) (FileConfig, bool, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		if _, err := os.Stat(p); err != nil {
			return FileConfig{}, false, fmt.Errorf("config file %s: %w", p, err)
		}
		cfg, err := LoadConfig(p)
		if err != nil {
			return FileConfig{}, false, err
		}
		return cfg, true, nil
	}

	var cfg FileConfig
	found := false
	if _, err := os.Stat(ConfigFileName); err == nil {
		loaded, err := LoadConfig(ConfigFileName)
		if err != nil {
			return FileConfig{}, false, err
		}
		cfg, found = loaded, true
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, found, nil
	}
	p := filepath.Join(home, ".adflow", ConfigFileName)
	if _, err := os.Stat(p); err == nil {
		homeCfg, err := LoadConfig(p)
		if err != nil {
			return FileConfig{}, false, err
		}
		// Fields the working-directory file left zero come from the home file.
		if err := mergo.Merge(&cfg, homeCfg); err != nil {
			return FileConfig{}, false, fmt.Errorf("layering config files: %w", err)
		}
		found = true
	}
	return cfg, found, nil
}

// LoadConfig parses a YAML configuration file.
func LoadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI flag
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultSQLitePath returns ~/.adflow/adflow.db, creating the directory if
// needed.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".adflow")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return filepath.Join(dir, "adflow.db"), nil
}
