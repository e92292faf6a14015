package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Provider names accepted in llm.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// SupportedProviders lists the provider names in the order they are documented to users.
var SupportedProviders = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// DefaultModels is the model used when a provider is selected without an explicit model.
var DefaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4",
	ProviderAnthropic: "claude-sonnet-4-20250514",
	ProviderGemini:    "gemini-2.0-flash",
}

// Config is the IceTop settings document stored in ~/.icetop/config.json.
// JSON names match the desktop settings panel so both can share one file.
type Config struct {
	LLM                 LLMSettings      `json:"llm" mapstructure:"llm"`
	Database            DatabaseSettings `json:"database" mapstructure:"database"`
	PyIcebergConfigPath string           `json:"pyicebergConfigPath" mapstructure:"pyicebergConfigPath"`
	PythonPath          string           `json:"pythonPath,omitempty" mapstructure:"pythonPath"`
	Theme               string           `json:"theme" mapstructure:"theme"`
	Logging             LoggingConfig    `json:"logging" mapstructure:"logging"`
	Gateway             GatewayConfig    `json:"gateway" mapstructure:"gateway"`
}

// LLMSettings selects the chat provider.
type LLMSettings struct {
	Provider string `json:"provider" mapstructure:"provider"`
	APIKey   string `json:"apiKey" mapstructure:"apiKey"`
	Model    string `json:"model" mapstructure:"model"`
}

// DatabaseSettings describes the local application database.
type DatabaseSettings struct {
	Backend     string `json:"backend" mapstructure:"backend"` // sqlite, postgres
	SQLitePath  string `json:"sqlitePath" mapstructure:"sqlitePath"`
	PostgresURI string `json:"postgresUri" mapstructure:"postgresUri"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"maxSize" mapstructure:"maxSize"` // MB
	MaxAge    int    `json:"maxAge" mapstructure:"maxAge"`   // days
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"sharedSecret" mapstructure:"sharedSecret"`
}

// Dir returns ~/.icetop, falling back to a relative directory when HOME is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".icetop"
	}
	return filepath.Join(home, ".icetop")
}

// DefaultPath returns the settings file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// DefaultPyIcebergConfigPath returns ~/.pyiceberg.yaml.
func DefaultPyIcebergConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pyiceberg.yaml"
	}
	return filepath.Join(home, ".pyiceberg.yaml")
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMSettings{
			Provider: ProviderOpenAI,
			Model:    DefaultModels[ProviderOpenAI],
		},
		Database: DatabaseSettings{
			Backend:    "sqlite",
			SQLitePath: filepath.Join(Dir(), "icetop.db"),
		},
		PyIcebergConfigPath: DefaultPyIcebergConfigPath(),
		Theme:               "dark",
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    7,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
	}
}

// String returns the config as indented JSON with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = MaskKey(masked.LLM.APIKey)
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "****"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// MaskKey keeps the last four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
