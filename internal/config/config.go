package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort    = 8080
	defaultDataDir = "data"
	defaultWorkers = 4
)

// Config describes runtime configuration for the service.
type Config struct {
	Port              int      `yaml:"port"`
	DataDir           string   `yaml:"data_dir"`
	OutputDir         string   `yaml:"output_dir"`
	Workers           int      `yaml:"workers"`
	Mode              string   `yaml:"mode"` // workers | subprocess | serial
	ConvertCommand    []string `yaml:"convert_command"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxFileSize       int64    `yaml:"max_file_size"` // bytes, 0 = unlimited
}

// Default returns sane defaults for local use.
func Default() Config {
	return Config{
		Port:              defaultPort,
		DataDir:           defaultDataDir,
		OutputDir:         "output",
		Workers:           defaultWorkers,
		Mode:              "workers",
		AllowedExtensions: []string{".txt", ".md", ".html", ".csv"},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	// basic normalization
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.Mode == "" {
		cfg.Mode = "workers"
	}
	switch cfg.Mode {
	case "workers", "subprocess", "serial":
	default:
		return cfg, fmt.Errorf("invalid mode: %q (must be workers, subprocess or serial)", cfg.Mode)
	}
	if cfg.Mode == "subprocess" && len(cfg.ConvertCommand) == 0 {
		return cfg, errors.New("mode subprocess requires convert_command")
	}
	// validate concurrency explicitly: values < 1 are not allowed
	if cfg.Workers < 1 {
		return cfg, fmt.Errorf("invalid workers: %d (must be >= 1)", cfg.Workers)
	}
	if cfg.MaxFileSize < 0 {
		return cfg, fmt.Errorf("invalid max_file_size: %d", cfg.MaxFileSize)
	}
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)
	return cfg, nil
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return Default().AllowedExtensions
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
