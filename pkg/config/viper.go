package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "FORKCHAT"

// LoadDotEnv loads .env files that exist, without overriding variables that
// are already set.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "could not load %s", p)
		}
		log.Debug().Str("path", p).Msg("Loaded environment file")
	}
	return nil
}

// ConfigPaths lists the directories searched for config.yaml.
func ConfigPaths() []string {
	ret := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		ret = append(ret, filepath.Join(dir, "forkchat"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		ret = append(ret, filepath.Join(home, ".forkchat"))
	}
	return ret
}

// InitViper wires defaults, the config file and FORKCHAT_ environment
// variables into v. An explicit configFile must exist.
func InitViper(v *viper.Viper, configFile string) error {
	if err := SetDefaults(v); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range ConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not read config file")
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}

// SetDefaults registers every default setting under its dotted key, so that
// environment variables are picked up for all of them.
func SetDefaults(v *viper.Viper) error {
	var m map[string]interface{}
	if err := yaml.Unmarshal(defaultSettingsYAML, &m); err != nil {
		return errors.Wrap(err, "could not parse default settings")
	}
	for k, val := range flatten("", m) {
		v.SetDefault(k, val)
	}
	return nil
}

func flatten(prefix string, m map[string]interface{}) map[string]interface{} {
	ret := map[string]interface{}{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			for sk, sv := range flatten(key, sub) {
				ret[sk] = sv
			}
			continue
		}
		ret[key] = v
	}
	return ret
}

// FromViper decodes and validates the effective settings.
func FromViper(v *viper.Viper) (*Settings, error) {
	ret, err := NewSettings()
	if err != nil {
		return nil, err
	}
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
