package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no stray config or .env
// file is picked up, and pins the provider keys.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("TOGETHER_API_KEY", "tg-key")
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Transports.HTTP.Port)
	assert.Equal(t, int64(25<<20), cfg.Transports.HTTP.MaxUploadBytes)
	assert.Equal(t, "deepgram", cfg.STT.Backend)
	assert.Equal(t, "nova-2", cfg.STT.Deepgram.Model)
	assert.Equal(t, "dg-key", cfg.STT.Deepgram.APIKey)
	assert.Equal(t, "dg-key", cfg.TTS.Deepgram.APIKey)
	assert.Equal(t, "tg-key", cfg.LLM.APIKey)
	assert.Equal(t, "meta-llama/Llama-3-8b-chat-hf", cfg.LLM.Model)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.9, cfg.LLM.TopP, 1e-6)
	assert.Equal(t, 75, cfg.LLM.TopK)
	assert.Equal(t, []string{"<|eot_id|>", "[/INST]", "</s>", "<|im_end|>"}, cfg.LLM.Stop)
	assert.Equal(t, "aura-asteria-en", cfg.TTS.Deepgram.Model)
	assert.Equal(t, "memory", cfg.History.Backend)
	assert.Equal(t, 24*time.Hour, cfg.History.Redis.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Relay.TurnTimeout)
	assert.Equal(t, DefaultSystemPrompt, cfg.LLM.SystemPrompt)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("VOICERELAY_TTS_DEEPGRAM_MODEL", "aura-orion-en")
	t.Setenv("VOICERELAY_HISTORY_BACKEND", "redis")
	t.Setenv("VOICERELAY_TRANSPORTS_HTTP_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "aura-orion-en", cfg.TTS.Deepgram.Model)
	assert.Equal(t, "redis", cfg.History.Backend)
	assert.Equal(t, 9090, cfg.Transports.HTTP.Port)
}

func TestLoad_ConfigFileAndPromptFile(t *testing.T) {
	dir := isolate(t)

	promptPath := filepath.Join(dir, "persona.txt")
	require.NoError(t, os.WriteFile(promptPath, []byte("  Be brief.\n"), 0o644))

	cfgPath := filepath.Join(dir, "custom.yaml")
	yaml := `
llm:
  model: mistralai/Mistral-7B-Instruct-v0.2
  system_prompt_file: ` + promptPath + `
history:
  max_messages: 20
logging:
  format: text
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "mistralai/Mistral-7B-Instruct-v0.2", cfg.LLM.Model)
	assert.Equal(t, "Be brief.", cfg.LLM.SystemPrompt)
	assert.Equal(t, 20, cfg.History.MaxMessages)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_MissingPromptFile(t *testing.T) {
	isolate(t)
	t.Setenv("VOICERELAY_LLM_SYSTEM_PROMPT_FILE", "/does/not/exist.txt")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no transports", func(c *Config) {
			c.Transports.HTTP.Enabled = false
			c.Transports.GRPC.Enabled = false
		}},
		{"unknown stt model", func(c *Config) { c.STT.Deepgram.Model = "whisper" }},
		{"missing deepgram key", func(c *Config) { c.STT.Deepgram.APIKey = "" }},
		{"unknown stt backend", func(c *Config) { c.STT.Backend = "vosk" }},
		{"whisper without base url", func(c *Config) {
			c.STT.Backend = "whisper"
			c.STT.Whisper.BaseURL = ""
		}},
		{"unknown llm model", func(c *Config) { c.LLM.Model = "gpt-2" }},
		{"missing llm key", func(c *Config) { c.LLM.APIKey = "" }},
		{"bad max tokens", func(c *Config) { c.LLM.MaxTokens = 0 }},
		{"unknown voice", func(c *Config) { c.TTS.Deepgram.Model = "aura-zeus-en" }},
		{"unknown tts backend", func(c *Config) { c.TTS.Backend = "polly" }},
		{"piper without endpoint", func(c *Config) {
			c.TTS.Backend = "piper"
			c.TTS.Piper.Endpoint = ""
		}},
		{"unknown history backend", func(c *Config) { c.History.Backend = "sqlite" }},
		{"postgres without dsn", func(c *Config) {
			c.History.Backend = "postgres"
			c.History.Postgres.DSN = ""
		}},
		{"negative window", func(c *Config) { c.History.MaxMessages = -1 }},
		{"archive without endpoint", func(c *Config) { c.Archive.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidate_AllowAnyModel(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.LLM.Model = "llama3.2:1b"
	cfg.LLM.AllowAnyModel = true
	assert.NoError(t, cfg.Validate())
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("VR_TEST_SECRET", "s3cret")

	assert.Equal(t, "s3cret", resolveEnvRef("${VR_TEST_SECRET}"))
	assert.Equal(t, "", resolveEnvRef("${VR_TEST_UNSET}"))
	assert.Equal(t, "literal", resolveEnvRef("literal"))
}
