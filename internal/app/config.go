package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is blockrunproxy's full runtime configuration, loaded entirely from
// BLOCKRUN_* environment variables.
type Config struct {
	ListenAddr string
	LogLevel   string

	WalletKey     string // raw BLOCKRUN_WALLET_KEY value; empty = read the key file
	WalletKeyPath string // used when WalletKey is empty

	DBDSN string

	ProviderTimeoutSecs int

	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	DedupTTLSecs           int
	MaxRequestSizeKB       int
	CompressionThresholdKB int
	AmbiguityEpsilon       float64
	DashboardProxyURL      string

	// Upstream provider endpoints. VLLMEndpoint empty disables the vllm
	// adapter entirely (self-hosted inference is opt-in).
	OpenAIBaseURL    string
	AnthropicBaseURL string
	VLLMEndpoint     string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("BLOCKRUN_PROXY_ADDR", ":"+getEnv("BLOCKRUN_PROXY_PORT", "8402")),
		LogLevel:   getEnv("BLOCKRUN_LOG_LEVEL", "info"),

		WalletKey:     getEnv("BLOCKRUN_WALLET_KEY", ""),
		WalletKeyPath: getEnv("BLOCKRUN_WALLET_KEY_PATH", ""),

		DBDSN: getEnv("BLOCKRUN_DB_DSN", "file:/data/blockrunproxy.sqlite"),

		ProviderTimeoutSecs: getEnvInt("BLOCKRUN_PROVIDER_TIMEOUT_SECS", 30),

		CORSOrigins:    getEnvStringSlice("BLOCKRUN_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("BLOCKRUN_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("BLOCKRUN_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("BLOCKRUN_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("BLOCKRUN_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("BLOCKRUN_OTEL_SERVICE_NAME", "blockrunproxy"),

		DedupTTLSecs:           getEnvInt("BLOCKRUN_DEDUP_TTL_SECS", 30),
		MaxRequestSizeKB:       getEnvInt("BLOCKRUN_MAX_REQUEST_SIZE_KB", 512),
		CompressionThresholdKB: getEnvInt("BLOCKRUN_COMPRESSION_THRESHOLD_KB", 5),
		AmbiguityEpsilon:       getEnvFloat("BLOCKRUN_AMBIGUITY_EPSILON", 0.03),
		DashboardProxyURL:      getEnv("BLOCKRUN_DASHBOARD_PROXY_URL", ""),

		OpenAIBaseURL:    getEnv("BLOCKRUN_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicBaseURL: getEnv("BLOCKRUN_ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		VLLMEndpoint:     getEnv("BLOCKRUN_VLLM_ENDPOINT", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("BLOCKRUN_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("BLOCKRUN_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("BLOCKRUN_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.DedupTTLSecs <= 0 {
		return fmt.Errorf("BLOCKRUN_DEDUP_TTL_SECS must be > 0, got %d", c.DedupTTLSecs)
	}
	if c.MaxRequestSizeKB <= 0 {
		return fmt.Errorf("BLOCKRUN_MAX_REQUEST_SIZE_KB must be > 0, got %d", c.MaxRequestSizeKB)
	}
	if c.AmbiguityEpsilon < 0 || c.AmbiguityEpsilon > 1 {
		return fmt.Errorf("BLOCKRUN_AMBIGUITY_EPSILON must be in [0,1], got %f", c.AmbiguityEpsilon)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
