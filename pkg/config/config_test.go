package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolveEnvironment(t *testing.T) {
	tests := []struct {
		name       string
		override   string
		envVar     string
		configured string
		want       Environment
		wantErr    bool
	}{
		{name: "default", want: EnvDevelopment},
		{name: "override wins", override: "production", envVar: "staging", configured: "testing", want: EnvProduction},
		{name: "env var over config", envVar: "staging", configured: "testing", want: EnvStaging},
		{name: "config property", configured: "testing", want: EnvTesting},
		{name: "invalid", override: "prod", wantErr: true},
		{name: "case insensitive", override: "PRODUCTION", want: EnvProduction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envVar != "" {
				t.Setenv(EnvVarName, tt.envVar)
			}
			got, err := ResolveEnvironment(tt.override, tt.configured)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ARCHFLOW_TEST_KEY", "sk-123")

	assert.Equal(t, "sk-123", ExpandEnv("${ARCHFLOW_TEST_KEY}"))
	assert.Equal(t, "prefix-sk-123", ExpandEnv("prefix-${ARCHFLOW_TEST_KEY}"))
	assert.Equal(t, "fallback", ExpandEnv("${ARCHFLOW_TEST_MISSING:-fallback}"))
	assert.Equal(t, "", ExpandEnv("${ARCHFLOW_TEST_MISSING}"))
	assert.Equal(t, "plain", ExpandEnv("plain"))
}

func TestLLMConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LLMConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *LLMConfig) {}},
		{name: "missing provider", mutate: func(c *LLMConfig) { c.Provider = "" }, wantErr: "provider is required"},
		{name: "unknown provider", mutate: func(c *LLMConfig) { c.Provider = "gpt" }, wantErr: "invalid provider"},
		{name: "missing api key", mutate: func(c *LLMConfig) { c.APIKey = "" }, wantErr: "api_key is required"},
		{name: "ollama without key", mutate: func(c *LLMConfig) { c.Provider = ProviderOllama; c.APIKey = "" }},
		{name: "temperature too high", mutate: func(c *LLMConfig) { c.Temperature = Float64Ptr(2.5) }, wantErr: "temperature"},
		{name: "top_p out of range", mutate: func(c *LLMConfig) { c.TopP = Float64Ptr(1.5) }, wantErr: "top_p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LLMConfig{
				Provider: ProviderOpenAI,
				Model:    "gpt-4o",
				APIKey:   "sk-test",
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLLMConfig_SetDefaults(t *testing.T) {
	t.Setenv("ARCHFLOW_TEST_API_KEY", "sk-env")

	cfg := LLMConfig{Provider: ProviderOpenAI, APIKey: "${ARCHFLOW_TEST_API_KEY}"}
	cfg.SetDefaults()

	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.Equal(t, 0.7, *cfg.Temperature)
	assert.Equal(t, 1.0, *cfg.TopP)
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, Duration(60*time.Second), cfg.Timeout)
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: Duration(100 * time.Millisecond), BackoffMultiplier: 2, MaxAttempts: 4}

	assert.Equal(t, time.Duration(0), cfg.Delay(0))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(3))
}

func TestEngineConfig_Defaults(t *testing.T) {
	var cfg EngineConfig
	cfg.SetDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, Duration(5*time.Minute), cfg.DefaultTimeout)
	assert.Equal(t, 3, cfg.DefaultRetry.MaxAttempts)
	assert.Equal(t, 1, cfg.LoopParallelism)
	assert.Equal(t, Duration(30*time.Minute), cfg.ConversationTTL)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderStub, cfg.LLM.Primary.Provider)
	assert.Equal(t, StrategyPrimaryOnly, cfg.LLM.Strategy)
	assert.Equal(t, "workflows", cfg.Workflows)
	assert.Equal(t, Duration(5*time.Minute), cfg.Engine.DefaultTimeout)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("ARCHFLOW_TEST_LOAD_KEY", "sk-file")

	path := filepath.Join(t.TempDir(), "archflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
engine:
  default_timeout: 90s
  worker_pool_size: 4
llm:
  primary:
    provider: openai
    model: gpt-4o
    api_key: ${ARCHFLOW_TEST_LOAD_KEY}
  fallback:
    provider: ollama
    model: llama3
  strategy: success_rate
workflows: ./defs
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, Duration(90*time.Second), cfg.Engine.DefaultTimeout)
	assert.Equal(t, 4, cfg.Engine.WorkerPoolSize)
	assert.Equal(t, "sk-file", cfg.LLM.Primary.APIKey)
	require.NotNil(t, cfg.LLM.Fallback)
	assert.Equal(t, ProviderOllama, cfg.LLM.Fallback.Provider)
	assert.Equal(t, StrategySuccessRate, cfg.LLM.Strategy)
	assert.Equal(t, "./defs", cfg.Workflows)
}

func TestLoad_InvalidStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  primary:
    provider: stub
  strategy: round_robin
`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid strategy")
}

func TestDuration_YAML(t *testing.T) {
	var cfg EngineConfig
	require.NoError(t, yaml.Unmarshal([]byte("default_timeout: 1m30s\nexecution_ttl: 7200000000000\n"), &cfg))
	assert.Equal(t, Duration(90*time.Second), cfg.DefaultTimeout)
	assert.Equal(t, Duration(2*time.Hour), cfg.ExecutionTTL)

	var bad EngineConfig
	err := yaml.Unmarshal([]byte("default_timeout: fast\n"), &bad)
	assert.ErrorContains(t, err, "invalid duration")

	out, err := yaml.Marshal(map[string]Duration{"timeout": Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "timeout: 1m30s\n", string(out))
}
