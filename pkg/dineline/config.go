package dineline

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/dineline/pkg/cache"
	"github.com/harunnryd/dineline/pkg/escalation"
	"github.com/harunnryd/dineline/pkg/intent"
	"github.com/harunnryd/dineline/pkg/knowledge"
	"github.com/harunnryd/dineline/pkg/respond"
	"github.com/harunnryd/dineline/pkg/store"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Server        ServerConfig        `mapstructure:"server"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Store         store.Config        `mapstructure:"store"`
	Cache         cache.Config        `mapstructure:"cache"`
	Restaurant    RestaurantConfig    `mapstructure:"restaurant"`
	Intent        intent.Config       `mapstructure:"intent"`
	Pipeline      respond.Config      `mapstructure:"pipeline"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Escalation    escalation.Config   `mapstructure:"escalation"`
	Call          CallConfig          `mapstructure:"call"`
	Languages     LanguageConfig      `mapstructure:"languages"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge"`
	Canned        map[string]string   `mapstructure:"canned"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	PublicURL    string        `mapstructure:"public_url"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// LLMConfig tunes the model operations independent of the provider.
type LLMConfig struct {
	ReplyModel          string        `mapstructure:"reply_model"`
	ExtractionModel     string        `mapstructure:"extraction_model"`
	ClassifyMaxTokens   int           `mapstructure:"classify_max_tokens"`
	ClassifyTemperature *float64      `mapstructure:"classify_temperature"`
	ReplyMaxTokens      int           `mapstructure:"reply_max_tokens"`
	ReplyTemperature    *float64      `mapstructure:"reply_temperature"`
	RewriteMaxTokens    int           `mapstructure:"rewrite_max_tokens"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

type RestaurantConfig struct {
	knowledge.Restaurant `mapstructure:",squash"`
	// Timezone is an IANA name used to read reservation times.
	Timezone string `mapstructure:"timezone"`
}

type CallConfig struct {
	LongUtteranceWords int           `mapstructure:"long_utterance_words"`
	MinConfidence      float64       `mapstructure:"min_confidence"`
	ErrorRecordTimeout time.Duration `mapstructure:"error_record_timeout"`
	PhoneRegion        string        `mapstructure:"phone_region"`
}

type LanguageConfig struct {
	Default string `mapstructure:"default"`
	// Menu maps a keypad digit to a language tag.
	Menu map[string]string `mapstructure:"menu"`
	// Phrases overrides built-in phrases: language tag -> phrase key -> text.
	Phrases map[string]map[string]string `mapstructure:"phrases"`
}

type KnowledgeConfig struct {
	Path string `mapstructure:"path"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
	MetricsLog    bool    `mapstructure:"metrics_log"`
	SampleRate    float64 `mapstructure:"sample_rate"`
	AsyncBuffer   int     `mapstructure:"async_buffer"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decodeConfig(v)
}

func decodeConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.drain_timeout", "20s")

	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("vendors.llm.provider", "openai")

	v.SetDefault("llm.reply_model", "gpt-3.5-turbo")
	v.SetDefault("llm.extraction_model", "gpt-4")
	v.SetDefault("llm.classify_max_tokens", 10)
	v.SetDefault("llm.classify_temperature", 0.3)
	v.SetDefault("llm.reply_max_tokens", 150)
	v.SetDefault("llm.reply_temperature", 0.7)
	v.SetDefault("llm.rewrite_max_tokens", 200)
	v.SetDefault("llm.call_timeout", "15s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("store.dsn", "dineline.db?_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("store.max_open_conns", 1)
	v.SetDefault("store.log_queries", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.session_ttl", "30s")
	v.SetDefault("cache.processing_ttl", "60s")
	v.SetDefault("cache.reply_ttl", "1h")
	v.SetDefault("cache.reply_max_words", 8)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "dineline:")
	v.SetDefault("cache.redis_dial_timeout", "2s")
	v.SetDefault("cache.redis_read_timeout", "500ms")
	v.SetDefault("cache.redis_write_timeout", "500ms")

	v.SetDefault("restaurant.name", "Mario's Italian Restaurant")
	v.SetDefault("restaurant.hours", "Tuesday-Sunday, 11am-10pm (closed Mondays)")
	v.SetDefault("restaurant.delivery_radius_miles", 5)
	v.SetDefault("restaurant.delivery_fee", 300)
	v.SetDefault("restaurant.min_reservation_size", 5)
	v.SetDefault("restaurant.timezone", "UTC")

	v.SetDefault("intent.memo_size", 1024)

	v.SetDefault("pipeline.history_exchanges", 5)
	v.SetDefault("pipeline.canned_memo_size", 1024)
	v.SetDefault("pipeline.max_facts", 4)

	v.SetDefault("escalation.no_input_threshold", 3)
	v.SetDefault("escalation.speech_fallback_threshold", 2)

	v.SetDefault("call.long_utterance_words", 25)
	v.SetDefault("call.min_confidence", 0.3)
	v.SetDefault("call.error_record_timeout", "2s")
	v.SetDefault("call.phone_region", "US")

	v.SetDefault("languages.default", "en-US")
	v.SetDefault("languages.menu", map[string]string{"1": "en-US", "2": "ur-PK"})

	v.SetDefault("knowledge.path", "")
	v.SetDefault("privacy.redact_pii", true)

	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.metrics_log", false)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.async_buffer", 2048)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if strings.TrimSpace(c.Languages.Default) == "" {
		return fmt.Errorf("languages.default is required")
	}
	if c.Call.MinConfidence < 0 || c.Call.MinConfidence > 1 {
		return fmt.Errorf("call.min_confidence must be between 0 and 1, got %v", c.Call.MinConfidence)
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate)
	}
	for digit := range c.Languages.Menu {
		if len(digit) != 1 || digit[0] < '0' || digit[0] > '9' {
			return fmt.Errorf("languages.menu keys must be single digits, got %q", digit)
		}
	}
	if tz := strings.TrimSpace(c.Restaurant.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("restaurant.timezone: %w", err)
		}
	}
	return nil
}

// Location resolves the restaurant timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if tz := strings.TrimSpace(c.Restaurant.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
	for lang, phrases := range cfg.Languages.Phrases {
		for k, v := range phrases {
			phrases[k] = os.ExpandEnv(v)
		}
		cfg.Languages.Phrases[lang] = phrases
	}
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded).Convert(v.Type().Elem()))
			}
		}
	}
}
