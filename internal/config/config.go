package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	GitHub struct {
		AppID          int64  `koanf:"app_id"`
		PrivateKey     string `koanf:"private_key"`
		PrivateKeyPath string `koanf:"private_key_path"`
		WebhookSecret  string `koanf:"webhook_secret"`
		APIBaseURL     string `koanf:"api_base_url"`
	} `koanf:"github"`

	AI struct {
		Provider       string  `koanf:"provider"`
		Model          string  `koanf:"model"`
		APIKey         string  `koanf:"api_key"`
		BaseURL        string  `koanf:"base_url"`
		MaxTokens      int     `koanf:"max_tokens"`
		Temperature    float64 `koanf:"temperature"`
		TimeoutSeconds int     `koanf:"timeout_seconds"`
	} `koanf:"ai"`

	Conversation struct {
		MaxContextMessages       int `koanf:"max_context_messages"`
		MaxFileBytes             int `koanf:"max_file_bytes"`
		SignificantEditThreshold int `koanf:"significant_edit_threshold"`
		RetentionDays            int `koanf:"retention_days"`
	} `koanf:"conversation"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":                             8080,
		"github.api_base_url":                     "https://api.github.com",
		"ai.provider":                             "openai",
		"ai.model":                                "gpt-4",
		"ai.max_tokens":                           2000,
		"ai.temperature":                          0.7,
		"ai.timeout_seconds":                      60,
		"conversation.max_context_messages":       20,
		"conversation.max_file_bytes":             100000,
		"conversation.significant_edit_threshold": 50,
		"conversation.retention_days":             90,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations - prioritize crdata directory for containerized environments
		defaultPaths := []string{"./crdata/coderbot.toml", "./coderbot.toml", "$HOME/.coderbot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix CODERBOT_. Only the first
	// underscore separates section from key, so CODERBOT_GITHUB_WEBHOOK_SECRET
	// maps to github.webhook_secret.
	k.Load(env.Provider("CODERBOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CODERBOT_")), "_", ".", 1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if config.GitHub.PrivateKey == "" && config.GitHub.PrivateKeyPath != "" {
		keyData, err := os.ReadFile(config.GitHub.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("error reading private key file: %w", err)
		}
		config.GitHub.PrivateKey = string(keyData)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# Coder Bot Configuration

[server]
port = 8080

[github]
app_id = 0
private_key_path = "coderbot.private-key.pem"
webhook_secret = "your-webhook-secret"

[ai]
provider = "openai"
model = "gpt-4"
api_key = "your-api-key"
max_tokens = 2000
temperature = 0.7

[conversation]
max_context_messages = 20
max_file_bytes = 100000
significant_edit_threshold = 50
retention_days = 90
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.GitHub.AppID == 0 {
		return fmt.Errorf("github app_id is required")
	}

	if config.GitHub.PrivateKey == "" {
		return fmt.Errorf("github private_key or private_key_path is required")
	}

	if config.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github webhook_secret is required")
	}

	switch config.AI.Provider {
	case "openai", "gemini", "claude":
		if config.AI.APIKey == "" {
			return fmt.Errorf("%s api_key is required", config.AI.Provider)
		}
	case "ollama":
		// Local models need no API key
	default:
		return fmt.Errorf("unsupported AI provider: %s", config.AI.Provider)
	}

	return nil
}
