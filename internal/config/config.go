package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Images     ImagesConfig     `mapstructure:"images"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Context    ContextConfig    `mapstructure:"context"`
	Triggers   TriggersConfig   `mapstructure:"triggers"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
	Debug         bool   `mapstructure:"debug"`
}

type OpenAIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	ChatModel   string        `mapstructure:"chat_model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ImagesConfig struct {
	// Models is the fallback chain; only the first two entries are used
	Models          []string      `mapstructure:"models"`
	Size            string        `mapstructure:"size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	DailyLimit      int           `mapstructure:"daily_limit"`
	CooldownSeconds int           `mapstructure:"cooldown_seconds"`
	TestPrompt      string        `mapstructure:"test_prompt"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type ContextConfig struct {
	MaxTurns       int    `mapstructure:"max_turns"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	RememberImages bool   `mapstructure:"remember_images"`
}

type TriggersConfig struct {
	Words        []string `mapstructure:"words"`
	ImagePhrases []string `mapstructure:"image_phrases"`
}

type ModerationConfig struct {
	BannedWords []string `mapstructure:"banned_words"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// DefaultSystemPrompt describes the bot's persona and the community rules
const DefaultSystemPrompt = `Ти — дружній GPT-бот україномовного чату спільноти Vibe-Coding.
Відповідай українською, коротко і по суті, якщо тебе не просять інакше.
Допомагай з програмуванням, інструментами штучного інтелекту та ідеями для проєктів.
Правила спільноти: поважай учасників, без образ, спаму, реклами та політичних суперечок.
Не вигадуй факти; якщо не знаєш відповіді — так і скажи.`

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("images.models", []string{"dall-e-3", "dall-e-2"})
	v.SetDefault("images.size", "1024x1024")
	v.SetDefault("images.timeout", 60*time.Second)
	v.SetDefault("images.download_timeout", 30*time.Second)
	v.SetDefault("images.max_concurrent", 2)
	v.SetDefault("images.daily_limit", 5)
	v.SetDefault("images.cooldown_seconds", 20)
	v.SetDefault("images.test_prompt", "a friendly robot writing code on a laptop, digital art")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("context.max_turns", 10)
	v.SetDefault("context.system_prompt", DefaultSystemPrompt)
	v.SetDefault("context.remember_images", true)

	v.SetDefault("triggers.words", []string{"бот"})
	v.SetDefault("moderation.banned_words", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "uk")
	v.SetDefault("i18n.languages", []string{"uk", "en"})
	v.SetDefault("i18n.directory", "configs/i18n")
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error: defaults and environment are enough to run.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("bot.token", "TELEGRAM_TOKEN", "BOT_TOKEN")
	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("images.daily_limit", "DAILY_IMAGE_LIMIT")
	v.BindEnv("images.cooldown_seconds", "IMAGE_COOLDOWN_SECONDS")
	v.BindEnv("context.max_turns", "MAX_TURNS")
	v.BindEnv("moderation.banned_words", "BANNED_WORDS")
	v.BindEnv("logging.level", "LOG_LEVEL")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Moderation.BannedWords = splitList(config.Moderation.BannedWords)
	config.Triggers.Words = splitList(config.Triggers.Words)

	return &config, nil
}

// splitList flattens comma-separated entries so env values like "a, b" work the same as YAML lists
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports missing required settings. Callers decide whether that is fatal.
func (c *Config) Validate() []error {
	var problems []error
	if c.Bot.Token == "" {
		problems = append(problems, errors.New("telegram token is required (TELEGRAM_TOKEN)"))
	}
	if c.OpenAI.APIKey == "" {
		problems = append(problems, errors.New("openai api key is required (OPENAI_API_KEY)"))
	}
	if len(c.Images.Models) == 0 {
		problems = append(problems, errors.New("at least one image model is required"))
	}
	return problems
}

// CooldownDuration returns the per-user image cooldown
func (c *ImagesConfig) CooldownDuration() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}
