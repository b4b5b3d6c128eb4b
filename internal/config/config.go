// Package config loads settings from config.yaml, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/cost"
	"github.com/valpere/llmvalues/internal/languages"
	"github.com/valpere/llmvalues/internal/llm"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Database       string   `mapstructure:"database" validate:"required"`
	ResourcesDir   string   `mapstructure:"resources_dir"`
	Languages      []string `mapstructure:"languages" validate:"min=1"`
	SourceLanguage string   `mapstructure:"source_language" validate:"required"`

	Cache       Cache                 `mapstructure:"cache"`
	Translation Translation           `mapstructure:"translation"`
	Pool        Pool                  `mapstructure:"pool"`
	Retry       Retry                 `mapstructure:"retry"`
	Prices      map[string]cost.Price `mapstructure:"prices"`
	Setups      []Setup               `mapstructure:"setups" validate:"dive"`
	Log         Log                   `mapstructure:"log"`
	Providers   Providers             `mapstructure:"providers"`
}

type Cache struct {
	Backend  string        `mapstructure:"backend" validate:"oneof=sqlite redis"`
	RedisURL string        `mapstructure:"redis_url" validate:"required_if=Backend redis"`
	RedisTTL time.Duration `mapstructure:"redis_ttl"`
}

type Translation struct {
	Provider    string `mapstructure:"provider" validate:"oneof=llm google"`
	Model       string `mapstructure:"model" validate:"required"`
	Validate    bool   `mapstructure:"validate"`
	Credentials string `mapstructure:"credentials"`
}

type Pool struct {
	Size        int64         `mapstructure:"size" validate:"gte=1"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// Setup is a named query configuration applied to the listed topics.
type Setup struct {
	Name   string   `mapstructure:"name" validate:"required"`
	Topics []string `mapstructure:"topics"`

	internal.QueryConfig `mapstructure:",squash"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type Providers struct {
	OpenAIKey     string `mapstructure:"openai_api_key"`
	AnthropicKey  string `mapstructure:"anthropic_api_key"`
	MistralKey    string `mapstructure:"mistral_api_key"`
	DeepSeekKey   string `mapstructure:"deepseek_api_key"`
	OpenRouterKey string `mapstructure:"openrouter_api_key"`
	OllamaURL     string `mapstructure:"ollama_url"`
}

var defaultLanguages = []string{
	"English", "Chinese", "Hindi", "Spanish", "French", "Arabic", "Bengali",
	"Russian", "Portuguese", "Indonesian", "German", "Japanese", "Turkish",
	"Korean", "Vietnamese", "Italian", "Persian", "Polish", "Ukrainian", "Swahili",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", "llmvalues.db")
	v.SetDefault("resources_dir", "resources")
	v.SetDefault("languages", defaultLanguages)
	v.SetDefault("source_language", languages.Source)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_ttl", time.Duration(0))

	v.SetDefault("translation.provider", "llm")
	v.SetDefault("translation.model", "gpt-4o-2024-05-13")
	v.SetDefault("translation.validate", false)
	v.SetDefault("translation.credentials", "")

	v.SetDefault("pool.size", 8)
	v.SetDefault("pool.call_timeout", 120*time.Second)

	retry := llm.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.base_delay", retry.BaseDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads .env (if present), then configFile or ./config.yaml (if present),
// then LLMVALUES_* environment variables. An empty configFile is not an error
// when no config.yaml exists.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LLMVALUES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("providers.openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("providers.anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.mistral_api_key", "MISTRAL_API_KEY")
	_ = v.BindEnv("providers.deepseek_api_key", "DEEPSEEK_API_KEY")
	_ = v.BindEnv("providers.openrouter_api_key", "OPENROUTER_API_KEY")
	_ = v.BindEnv("providers.ollama_url", "OLLAMA_URL")
	_ = v.BindEnv("translation.credentials", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct rules and canonicalises language names. The
// source language is added to Languages when missing.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	source, err := languages.Canonical(c.SourceLanguage)
	if err != nil {
		return fmt.Errorf("%w: source_language: %v", ErrInvalid, err)
	}
	c.SourceLanguage = source

	seen := make(map[string]bool, len(c.Languages))
	langs := make([]string, 0, len(c.Languages)+1)
	for _, name := range c.Languages {
		canonical, err := languages.Canonical(name)
		if err != nil {
			return fmt.Errorf("%w: languages: %v", ErrInvalid, err)
		}
		if !seen[canonical] {
			seen[canonical] = true
			langs = append(langs, canonical)
		}
	}
	if !seen[source] {
		langs = append([]string{source}, langs...)
	}
	c.Languages = langs

	for _, su := range c.Setups {
		if su.QuestionEnglish && su.AnswerEnglish {
			return fmt.Errorf("%w: setup %q sets both question_english and answer_english", ErrInvalid, su.Name)
		}
	}
	return nil
}

// PriceTable returns the default prices with configured overrides applied.
func (c *Config) PriceTable() map[string]cost.Price {
	prices := cost.DefaultPrices()
	for model, p := range c.Prices {
		prices[model] = p
	}
	return prices
}
