// Package registry loads the table of selectable chat models and resolves a
// model name to the parameters needed to invoke it.
package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/web-chatbot/backend/pkg/logger"
)

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Hosted reports whether the provider is a remote API that needs a key.
func (p Provider) Hosted() bool {
	return p == ProviderOpenAI || p == ProviderGemini
}

func (p Provider) valid() bool {
	switch p {
	case ProviderOllama, ProviderOpenAI, ProviderGemini:
		return true
	}
	return false
}

var defaultKeyEnv = map[Provider]string{
	ProviderOpenAI: "OPENAI_CHAT_API_KEY",
	ProviderGemini: "GEMINI_API_KEY",
}

var ErrMissingCredential = errors.New("missing credential")

type ConfigError struct {
	Model  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "model config"
	if e.Model != "" {
		msg += " " + fmt.Sprintf("%q", e.Model)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Descriptor holds everything needed to call one model. APIKey is filled by
// Resolve for hosted providers only.
type Descriptor struct {
	Name        string   `yaml:"-" json:"name"`
	Provider    Provider `yaml:"provider" json:"provider"`
	Model       string   `yaml:"model" json:"model"`
	BaseURL     string   `yaml:"base_url" json:"base_url,omitempty"`
	Temperature float32  `yaml:"temperature" json:"temperature"`
	MaxTokens   int      `yaml:"max_tokens" json:"max_tokens,omitempty"`
	APIKeyEnv   string   `yaml:"api_key_env" json:"-"`
	APIKey      string   `yaml:"-" json:"-"`
}

type Registry struct {
	names  []string
	models map[string]Descriptor
	getenv func(string) string
}

type Option func(*Registry)

// WithGetenv replaces os.Getenv for credential lookup.
func WithGetenv(getenv func(string) string) Option {
	return func(r *Registry) { r.getenv = getenv }
}

// Load reads the model table at path. A .env file in the working directory
// is loaded first when present; variables already set are not overridden.
func Load(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: "failed to read " + path, Err: err}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	return Parse(data, opts...)
}

// Parse builds a registry from YAML mapping model name to descriptor. Names
// keep their order in the document.
func Parse(data []byte, opts ...Option) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Reason: "invalid YAML", Err: err}
	}

	r := &Registry{
		models: make(map[string]Descriptor),
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(r)
	}

	if len(doc.Content) == 0 {
		return r, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ConfigError{Reason: "model table must be a mapping of name to parameters"}
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var d Descriptor
		if err := root.Content[i+1].Decode(&d); err != nil {
			return nil, &ConfigError{Model: name, Reason: "invalid parameters", Err: err}
		}
		if _, dup := r.models[name]; dup {
			return nil, &ConfigError{Model: name, Reason: "defined more than once"}
		}
		if !d.Provider.valid() {
			return nil, &ConfigError{Model: name, Reason: fmt.Sprintf("unknown provider %q", d.Provider)}
		}
		if d.Model == "" {
			return nil, &ConfigError{Model: name, Reason: "model identifier is empty"}
		}
		if d.APIKeyEnv == "" {
			d.APIKeyEnv = defaultKeyEnv[d.Provider]
		}
		d.Name = name
		r.names = append(r.names, name)
		r.models[name] = d
	}

	logger.Debug("Model registry loaded", zap.Strings("models", r.names))
	return r, nil
}

// List returns the configured model names in file order.
func (r *Registry) List() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Resolve returns the descriptor for name. Hosted providers also get their
// API key from the environment; a missing key is a ConfigError wrapping
// ErrMissingCredential. Local providers never check.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	d, ok := r.models[name]
	if !ok {
		return Descriptor{}, &ConfigError{Model: name, Reason: "unknown model"}
	}

	if d.Provider.Hosted() {
		key := r.getenv(d.APIKeyEnv)
		if key == "" {
			return Descriptor{}, &ConfigError{
				Model:  name,
				Reason: "environment variable " + d.APIKeyEnv + " is not set",
				Err:    ErrMissingCredential,
			}
		}
		d.APIKey = key
	}
	return d, nil
}
