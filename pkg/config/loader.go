package config

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from the given YAML file, applies ${VAR}
// environment substitution to its contents, then layers ACCRETION_*
// environment overrides on top. An empty path loads defaults plus
// environment overrides only.
//
// Override keys follow the section structure with underscores, e.g.
// ACCRETION_QUEUE_BACKEND=kafka or ACCRETION_DATABASE_DSN=postgres://...
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ACCRETION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := NewConfig()
	bindDefaults(v, cfg)

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
		data = substituteEnvVars(data)
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file")
		}
	}

	if err := v.Unmarshal(cfg, decodeWithYAMLTags); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file. Intended for scaffolding
// example configs, not for round-tripping live state.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal configuration")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file")
	}
	return nil
}

// decodeWithYAMLTags makes viper honor the same yaml tags the file uses,
// and parse "30s" style durations.
func decodeWithYAMLTags(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// bindDefaults registers the default tree with viper so AutomaticEnv can
// override keys that never appear in the file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	flattenInto(v, "", tree)
}

func flattenInto(v *viper.Viper, prefix string, node map[string]any) {
	for key, val := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := val.(map[string]any); ok {
			flattenInto(v, full, child)
			continue
		}
		v.SetDefault(full, val)
	}
}

// substituteEnvVars replaces ${VAR} references with environment values.
// Unset variables substitute as empty strings.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
