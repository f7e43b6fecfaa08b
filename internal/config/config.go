// Package config loads service configuration from environment variables.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration holds all service configuration, loaded once at startup and
// immutable afterwards.
type Configuration struct {
	Service       ServiceConfig
	Recognizer    RecognizerConfig
	Classifier    ClassifierConfig
	Lexicon       LexiconConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds core service settings.
type ServiceConfig struct {
	HTTPPort    string
	MetricsPort string
	Env         string
}

// RecognizerConfig holds speech recognizer settings.
type RecognizerConfig struct {
	Provider          string // vosk, google, mock
	ModelPath         string // VOSK_MODEL_PATH
	DefaultSampleRate int
	LanguageCode      string
}

// ClassifierConfig holds the remote classifier endpoint settings and the
// output-spec configuration describing how its responses are interpreted.
type ClassifierConfig struct {
	Host          string
	Token         string
	Endpoint      string
	InputColumn   string
	ScoreType     string
	ScoreField    string
	LabelField    string
	PositiveClass string
	// EndpointSpecs maps endpoint name -> per-endpoint output spec override.
	// A key present here replaces the global spec wholesale for that endpoint.
	EndpointSpecs map[string]json.RawMessage
	Threshold     float64
	ScoreTimeout  time.Duration
}

// LexiconConfig holds the local fallback lexicon settings.
type LexiconConfig struct {
	Provider string // FLAGGING_PROVIDER, e.g. "lexicon"
	Path     string // FLAG_TERMS_PATH; empty means not configured
}

// KafkaConfig holds the optional downstream event publisher settings.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicSegments string
	TopicScores   string
	Principal     string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel string
}

// Load reads configuration from the environment, applying defaults for any
// unset variable. It never fails; a malformed value falls back to its default
// so a misconfigured capability degrades health instead of crashing the
// process.
func Load() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			Env:         envOrDefault("ENV", "prod"),
		},
		Recognizer: RecognizerConfig{
			Provider:          strings.ToLower(envOrDefault("STT_PROVIDER", "vosk")),
			ModelPath:         envOrDefault("VOSK_MODEL_PATH", ""),
			DefaultSampleRate: envInt("STT_SAMPLE_RATE_HZ", 16000),
			LanguageCode:      envOrDefault("STT_LANGUAGE_CODE", "en-US"),
		},
		Classifier: ClassifierConfig{
			Host:          strings.TrimRight(envOrDefault("DATABRICKS_HOST", ""), "/"),
			Token:         envOrDefault("DATABRICKS_TOKEN", ""),
			Endpoint:      strings.TrimSpace(envOrDefault("DATABRICKS_ENDPOINT", "")),
			InputColumn:   envOrDefault("DATABRICKS_INPUT_COLUMN", "comment_text"),
			ScoreType:     strings.ToLower(envOrDefault("DATABRICKS_SCORE_TYPE", "none")),
			ScoreField:    envOrDefault("DATABRICKS_SCORE_FIELD", ""),
			LabelField:    envOrDefault("DATABRICKS_LABEL_FIELD", ""),
			PositiveClass: envOrDefault("DATABRICKS_POSITIVE_CLASS", ""),
			EndpointSpecs: envEndpointSpecs("DATABRICKS_ENDPOINT_OUTPUT_SPECS"),
			Threshold:     envFloat("TOXICITY_THRESHOLD", 0.7),
			ScoreTimeout:  envDuration("SCORE_TIMEOUT", 10*time.Second),
		},
		Lexicon: LexiconConfig{
			Provider: strings.ToLower(envOrDefault("FLAGGING_PROVIDER", "lexicon")),
			Path:     envOrDefault("FLAG_TERMS_PATH", ""),
		},
		Kafka: KafkaConfig{
			Enabled:       envBool("KAFKA_ENABLED", false),
			Brokers:       envList("KAFKA_BROKERS"),
			TopicSegments: envOrDefault("KAFKA_TOPIC_SEGMENTS", "moderation.transcript.segment"),
			TopicScores:   envOrDefault("KAFKA_TOPIC_SCORES", "moderation.transcript.score"),
			Principal:     envOrDefault("SERVICE_PRINCIPAL", "svc-voice-screening"),
		},
		Observability: ObservabilityConfig{
			LogLevel: envOrDefault("LOG_LEVEL", "info"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in env, using default")
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid float in env, using default")
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid bool in env, using default")
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in env, using default")
		return def
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envEndpointSpecs parses the per-endpoint output spec override map. Invalid
// JSON yields a nil map and a warning; the global spec then applies to every
// endpoint.
func envEndpointSpecs(key string) map[string]json.RawMessage {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	specs := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(v), &specs); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("Invalid endpoint output specs JSON, ignoring")
		return nil
	}
	return specs
}
