package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file encoding.
type Format string

// Supported configuration formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// detectFormat picks the encoding from the file extension, defaulting to YAML.
func detectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Load reads and parses a configuration file from the given path.
// The format is chosen by extension (.toml, otherwise YAML). Environment
// variables in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (cfg *Config, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", cerr)
		}
	}()

	return LoadFromReaderWithFormat(file, detectFormat(path))
}

// LoadFromReader reads and parses YAML configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	return LoadFromReaderWithFormat(r, FormatYAML)
}

// LoadFromReaderWithFormat reads and parses configuration in the given format.
func LoadFromReaderWithFormat(r io.Reader, format Format) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	expanded := []byte(os.ExpandEnv(string(content)))

	var cfg Config
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(expanded))
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q", format)
	}
	return &cfg, nil
}

// LoadAndValidate loads path and rejects configurations that fail Validate.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
