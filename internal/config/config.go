// Package config handles loading and validating the voicerelay configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for the voicerelay daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	STT        STTConfig        `mapstructure:"stt"`
	LLM        LLMConfig        `mapstructure:"llm"`
	TTS        TTSConfig        `mapstructure:"tts"`
	History    HistoryConfig    `mapstructure:"history"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each ingress transport.
type TransportsConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimit      int      `mapstructure:"rate_limit"` // requests per minute per IP, 0 disables
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// STTConfig selects and configures the speech-to-text backend.
type STTConfig struct {
	Backend  string      `mapstructure:"backend"` // "deepgram", "google" or "whisper"
	Deepgram DeepgramSTT `mapstructure:"deepgram"`
	Google   GoogleSTT   `mapstructure:"google"`
	Whisper  WhisperSTT  `mapstructure:"whisper"`
}

// DeepgramSTT holds Deepgram /v1/listen settings.
type DeepgramSTT struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	SmartFormat bool   `mapstructure:"smart_format"`
}

// GoogleSTT holds Google Cloud Speech-to-Text settings.
type GoogleSTT struct {
	CredentialsFile string `mapstructure:"credentials_file"` // empty uses application default credentials
	LanguageCode    string `mapstructure:"language_code"`
	Model           string `mapstructure:"model"`
	SampleRateHertz int32  `mapstructure:"sample_rate_hertz"`
}

// WhisperSTT holds settings for an OpenAI-compatible transcription endpoint.
type WhisperSTT struct {
	APIKey   string `mapstructure:"api_key"` // may be empty for self-hosted servers
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	APIKey            string   `mapstructure:"api_key"`
	BaseURL           string   `mapstructure:"base_url"`
	Model             string   `mapstructure:"model"`
	Temperature       float32  `mapstructure:"temperature"`
	MaxTokens         int      `mapstructure:"max_tokens"`
	TopP              float32  `mapstructure:"top_p"`
	TopK              int      `mapstructure:"top_k"`
	RepetitionPenalty float32  `mapstructure:"repetition_penalty"`
	Stop              []string `mapstructure:"stop"`
	SystemPrompt      string   `mapstructure:"system_prompt"`
	SystemPromptFile  string   `mapstructure:"system_prompt_file"`
	AllowAnyModel     bool     `mapstructure:"allow_any_model"` // skip the model allow-list (self-hosted endpoints)
}

// TTSConfig configures the text-to-speech backend.
type TTSConfig struct {
	Backend  string      `mapstructure:"backend"` // "deepgram" or "piper"
	Deepgram DeepgramTTS `mapstructure:"deepgram"`
	Piper    PiperTTS    `mapstructure:"piper"`
}

// DeepgramTTS holds Deepgram /v1/speak settings.
type DeepgramTTS struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Encoding   string `mapstructure:"encoding"`    // empty keeps the provider default (mp3)
	SampleRate int    `mapstructure:"sample_rate"` // only sent together with encoding
	Container  string `mapstructure:"container"`
}

// PiperTTS points at a Piper server speaking the Wyoming protocol.
type PiperTTS struct {
	Endpoint string `mapstructure:"endpoint"` // host:port, e.g. localhost:10200
	Voice    string `mapstructure:"voice"`
}

// HistoryConfig selects where conversation history lives.
type HistoryConfig struct {
	Backend     string         `mapstructure:"backend"`      // "memory", "redis" or "postgres"
	MaxMessages int            `mapstructure:"max_messages"` // prompt window, 0 sends the whole history
	Redis       RedisConfig    `mapstructure:"redis"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig holds the redis history driver settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PostgresConfig holds the postgres history driver settings.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ArchiveConfig configures optional turn archiving to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// RelayConfig holds pipeline settings.
type RelayConfig struct {
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// ValidSTTModels lists the Deepgram recognition models accepted by Validate.
var ValidSTTModels = []string{"nova-2", "nova-2-general", "nova-3"}

// ValidTTSModels lists the Deepgram Aura voices accepted by Validate.
var ValidTTSModels = []string{
	"aura-hera-en",
	"aura-luna-en",
	"aura-stella-en",
	"aura-athena-en",
	"aura-asteria-en",

	"aura-angus-en",
	"aura-orion-en",
	"aura-arcas-en",
	"aura-helios-en",
	"aura-perseus-en",
}

// ValidLLMModels lists the Together chat models accepted by Validate.
var ValidLLMModels = []string{
	"microsoft/WizardLM-2-8x22B",
	"meta-llama/Llama-3-8b-chat-hf",
	"meta-llama/Llama-3-70b-chat-hf",
	"mistralai/Mistral-7B-Instruct-v0.2",
	"mistralai/Mixtral-8X7B-Instruct-V0.1",
	"NousResearch/Nous-Hermes-2-Mixtral-8X7B-DPO",
}

// DefaultSystemPrompt is used when neither llm.system_prompt nor
// llm.system_prompt_file is set.
const DefaultSystemPrompt = `You are a warm, quick-witted voice companion.
Everything you write is spoken aloud, so use plain conversational language with no markdown, lists or bracketed text.
Keep replies to at most three short sentences and ask no more than one question.
The user's words come from an imperfect transcription; guess their meaning when you can, otherwise ask them to repeat.`

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads the configuration from file, environment variables, and defaults.
// A .env file in the working directory is loaded first, if present.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./voicerelay.yaml, ./configs/voicerelay.yaml, /etc/voicerelay/voicerelay.yaml.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	v := viper.New()
	setDefaults(v)

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("voicerelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/voicerelay")
	}

	// Environment variables: VOICERELAY_STT_DEEPGRAM_MODEL, VOICERELAY_HISTORY_BACKEND, etc.
	v.SetEnvPrefix("VOICERELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.resolveSecrets()

	if cfg.LLM.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.LLM.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("reading system prompt file: %w", err)
		}
		cfg.LLM.SystemPrompt = strings.TrimSpace(string(data))
	}
	if strings.TrimSpace(cfg.LLM.SystemPrompt) == "" {
		cfg.LLM.SystemPrompt = DefaultSystemPrompt
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8000)
	v.SetDefault("transports.http.max_upload_bytes", 25<<20)
	v.SetDefault("transports.http.allowed_origins", []string{"*"})
	v.SetDefault("transports.http.rate_limit", 60)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("stt.backend", "deepgram")
	v.SetDefault("stt.deepgram.api_key", "${DEEPGRAM_API_KEY}")
	v.SetDefault("stt.deepgram.base_url", "https://api.deepgram.com")
	v.SetDefault("stt.deepgram.model", "nova-2")
	v.SetDefault("stt.deepgram.smart_format", false)
	v.SetDefault("stt.deepgram.language", "")
	v.SetDefault("stt.google.credentials_file", "")
	v.SetDefault("stt.google.language_code", "en-US")
	v.SetDefault("stt.google.model", "")
	v.SetDefault("stt.google.sample_rate_hertz", 0)
	v.SetDefault("stt.whisper.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("stt.whisper.base_url", "https://api.openai.com/v1")
	v.SetDefault("stt.whisper.model", "whisper-1")
	v.SetDefault("stt.whisper.language", "")
	v.SetDefault("llm.api_key", "${TOGETHER_API_KEY}")
	v.SetDefault("llm.base_url", "https://api.together.xyz/v1")
	v.SetDefault("llm.model", "meta-llama/Llama-3-8b-chat-hf")
	v.SetDefault("llm.temperature", 1.0)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.top_k", 75)
	v.SetDefault("llm.repetition_penalty", 1.0)
	v.SetDefault("llm.stop", []string{"<|eot_id|>", "[/INST]", "</s>", "<|im_end|>"})
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.system_prompt_file", "")
	v.SetDefault("llm.allow_any_model", false)
	v.SetDefault("tts.backend", "deepgram")
	v.SetDefault("tts.deepgram.api_key", "${DEEPGRAM_API_KEY}")
	v.SetDefault("tts.deepgram.base_url", "https://api.deepgram.com")
	v.SetDefault("tts.deepgram.model", "aura-asteria-en")
	v.SetDefault("tts.deepgram.encoding", "")
	v.SetDefault("tts.deepgram.sample_rate", 0)
	v.SetDefault("tts.deepgram.container", "")
	v.SetDefault("tts.piper.endpoint", "localhost:10200")
	v.SetDefault("tts.piper.voice", "en_US-lessac-medium")
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.max_messages", 0)
	v.SetDefault("history.redis.addr", "localhost:6379")
	v.SetDefault("history.redis.password", "")
	v.SetDefault("history.redis.db", 0)
	v.SetDefault("history.redis.ttl", 24*time.Hour)
	v.SetDefault("history.postgres.dsn", "${DATABASE_URL}")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "${S3_ACCESS_KEY}")
	v.SetDefault("archive.secret_key", "${S3_SECRET_KEY}")
	v.SetDefault("archive.bucket", "voicerelay")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.use_ssl", true)
	v.SetDefault("relay.turn_timeout", 2*time.Minute)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// resolveSecrets replaces "${VAR}" references in sensitive fields.
func (c *Config) resolveSecrets() {
	c.STT.Deepgram.APIKey = resolveEnvRef(c.STT.Deepgram.APIKey)
	c.STT.Whisper.APIKey = resolveEnvRef(c.STT.Whisper.APIKey)
	c.TTS.Deepgram.APIKey = resolveEnvRef(c.TTS.Deepgram.APIKey)
	c.LLM.APIKey = resolveEnvRef(c.LLM.APIKey)
	c.History.Redis.Password = resolveEnvRef(c.History.Redis.Password)
	c.History.Postgres.DSN = resolveEnvRef(c.History.Postgres.DSN)
	c.Archive.AccessKey = resolveEnvRef(c.Archive.AccessKey)
	c.Archive.SecretKey = resolveEnvRef(c.Archive.SecretKey)
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
// An unset variable resolves to the empty string.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

// Validate checks backend selections, model names and credentials.
func (c *Config) Validate() error {
	if !c.Transports.HTTP.Enabled && !c.Transports.GRPC.Enabled {
		return fmt.Errorf("%w: no transports enabled", ErrInvalidConfig)
	}

	switch c.STT.Backend {
	case "deepgram":
		if c.STT.Deepgram.APIKey == "" {
			return fmt.Errorf("%w: stt.deepgram.api_key is empty (set DEEPGRAM_API_KEY)", ErrInvalidConfig)
		}
		if !slices.Contains(ValidSTTModels, c.STT.Deepgram.Model) {
			return fmt.Errorf("%w: invalid speech-to-text model %q for deepgram", ErrInvalidConfig, c.STT.Deepgram.Model)
		}
	case "google":
		if c.STT.Google.LanguageCode == "" {
			return fmt.Errorf("%w: stt.google.language_code is empty", ErrInvalidConfig)
		}
	case "whisper":
		if c.STT.Whisper.BaseURL == "" {
			return fmt.Errorf("%w: stt.whisper.base_url is empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown stt backend %q", ErrInvalidConfig, c.STT.Backend)
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w: llm.api_key is empty (set TOGETHER_API_KEY)", ErrInvalidConfig)
	}
	if !c.LLM.AllowAnyModel && !slices.Contains(ValidLLMModels, c.LLM.Model) {
		return fmt.Errorf("%w: the provided model name %q is an invalid language model", ErrInvalidConfig, c.LLM.Model)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("%w: llm.max_tokens must be positive", ErrInvalidConfig)
	}

	switch c.TTS.Backend {
	case "deepgram":
		if c.TTS.Deepgram.APIKey == "" {
			return fmt.Errorf("%w: tts.deepgram.api_key is empty (set DEEPGRAM_API_KEY)", ErrInvalidConfig)
		}
		if !slices.Contains(ValidTTSModels, c.TTS.Deepgram.Model) {
			return fmt.Errorf("%w: the provided model name %q is an invalid voice for deepgram", ErrInvalidConfig, c.TTS.Deepgram.Model)
		}
	case "piper":
		if c.TTS.Piper.Endpoint == "" {
			return fmt.Errorf("%w: tts.piper.endpoint is empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown tts backend %q", ErrInvalidConfig, c.TTS.Backend)
	}

	switch c.History.Backend {
	case "memory":
	case "redis":
		if c.History.Redis.Addr == "" {
			return fmt.Errorf("%w: history.redis.addr is empty", ErrInvalidConfig)
		}
	case "postgres":
		if c.History.Postgres.DSN == "" {
			return fmt.Errorf("%w: history.postgres.dsn is empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown history backend %q", ErrInvalidConfig, c.History.Backend)
	}
	if c.History.MaxMessages < 0 {
		return fmt.Errorf("%w: history.max_messages must not be negative", ErrInvalidConfig)
	}

	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		return fmt.Errorf("%w: archive.endpoint and archive.bucket are required when archiving", ErrInvalidConfig)
	}

	return nil
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
