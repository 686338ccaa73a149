package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default-settings.yaml
var defaultSettingsYAML []byte

type TransportSettings struct {
	// Kind is one of openai, ollama, echo.
	Kind    string `yaml:"kind" mapstructure:"kind"`
	Model   string `yaml:"model" mapstructure:"model"`
	APIKey  string `yaml:"api-key" mapstructure:"api-key"`
	BaseURL string `yaml:"base-url" mapstructure:"base-url"`
}

type ChatSettings struct {
	Session      string `yaml:"session" mapstructure:"session"`
	Category     string `yaml:"category" mapstructure:"category"`
	SystemPrompt string `yaml:"system-prompt" mapstructure:"system-prompt"`
}

type CacheSettings struct {
	// Dir holds the pebble cache. Empty keeps the cache in memory.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

type RemoteSettings struct {
	// Kind is one of none, sqlite, http.
	Kind string `yaml:"kind" mapstructure:"kind"`
	DSN  string `yaml:"dsn" mapstructure:"dsn"`
	URL  string `yaml:"url" mapstructure:"url"`
}

type TimingSettings struct {
	LoaderShowDelay  time.Duration `yaml:"loader-show-delay" mapstructure:"loader-show-delay"`
	LoaderMinVisible time.Duration `yaml:"loader-min-visible" mapstructure:"loader-min-visible"`
	AutosaveDelay    time.Duration `yaml:"autosave-delay" mapstructure:"autosave-delay"`
}

type ServerSettings struct {
	Listen    string  `yaml:"listen" mapstructure:"listen"`
	RateRPS   float64 `yaml:"rate-rps" mapstructure:"rate-rps"`
	RateBurst int     `yaml:"rate-burst" mapstructure:"rate-burst"`
}

type Settings struct {
	Transport TransportSettings `yaml:"transport" mapstructure:"transport"`
	Chat      ChatSettings      `yaml:"chat" mapstructure:"chat"`
	Cache     CacheSettings     `yaml:"cache" mapstructure:"cache"`
	Remote    RemoteSettings    `yaml:"remote" mapstructure:"remote"`
	Timing    TimingSettings    `yaml:"timing" mapstructure:"timing"`
	Server    ServerSettings    `yaml:"server" mapstructure:"server"`
}

var (
	TransportKinds = []string{"openai", "ollama", "echo"}
	RemoteKinds    = []string{"none", "sqlite", "http"}
)

// NewSettings returns the built-in defaults.
func NewSettings() (*Settings, error) {
	ret := &Settings{}
	if err := yaml.Unmarshal(defaultSettingsYAML, ret); err != nil {
		return nil, errors.Wrap(err, "could not parse default settings")
	}
	return ret, nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) Validate() error {
	if !oneOf(s.Transport.Kind, TransportKinds) {
		return errors.Errorf("unknown transport %q, expected one of %s", s.Transport.Kind, strings.Join(TransportKinds, ", "))
	}
	if s.Transport.Kind == "openai" && s.Transport.APIKey == "" && s.Transport.BaseURL == "" {
		return errors.New("the openai transport needs an api key")
	}
	if !oneOf(s.Remote.Kind, RemoteKinds) {
		return errors.Errorf("unknown remote %q, expected one of %s", s.Remote.Kind, strings.Join(RemoteKinds, ", "))
	}
	if s.Remote.Kind == "sqlite" && s.Remote.DSN == "" {
		return errors.New("the sqlite remote needs a dsn")
	}
	if s.Remote.Kind == "http" && s.Remote.URL == "" {
		return errors.New("the http remote needs a url")
	}
	if s.Timing.LoaderShowDelay < 0 || s.Timing.LoaderMinVisible < 0 || s.Timing.AutosaveDelay < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// YAML renders the settings with secrets masked.
func (s *Settings) YAML() (string, error) {
	c := s.Clone()
	if c.Transport.APIKey != "" {
		c.Transport.APIKey = mask(c.Transport.APIKey)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "could not render settings")
	}
	return string(b), nil
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s…%s", s[:3], s[len(s)-4:])
}

func oneOf(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
