package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"modelprov/internal/common/fsutil"
)

// Config holds flag defaults read from a file. Keys are flag names without
// the leading dashes. Defaults apply to every command; Proxy and Runtime
// only to the matching command and win over Defaults.
type Config struct {
	Defaults map[string]any `json:"defaults" yaml:"defaults" toml:"defaults"`
	Proxy    map[string]any `json:"proxy" yaml:"proxy" toml:"proxy"`
	Runtime  map[string]any `json:"runtime" yaml:"runtime" toml:"runtime"`
}

// Load reads a configuration file based on its extension. A leading '~' is
// expanded. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	if !fsutil.PathExists(path) {
		return cfg, fmt.Errorf("config file %s not found", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Values returns the flag defaults for a command ("proxy" or "runtime") as
// strings ready for pflag's Set.
func (c Config) Values(command string) (map[string]string, error) {
	out := make(map[string]string, len(c.Defaults))
	if err := merge(out, c.Defaults); err != nil {
		return nil, err
	}
	var section map[string]any
	switch command {
	case "proxy":
		section = c.Proxy
	case "runtime":
		section = c.Runtime
	}
	if err := merge(out, section); err != nil {
		return nil, err
	}
	return out, nil
}

func merge(dst map[string]string, src map[string]any) error {
	for k, v := range src {
		s, err := stringify(v)
		if err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		dst[strings.TrimLeft(k, "-")] = s
	}
	return nil
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
