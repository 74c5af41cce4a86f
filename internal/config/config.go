// Package config reads process configuration from the environment.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"

	defaultMaxTextLength = 4000
	defaultListenAddr    = ":8080"
	defaultSQLitePath    = "./echochat.db"
)

// Config holds everything the lambda, serve and invoke commands need.
type Config struct {
	Region              string
	EndpointName        string
	ParamPrefix         string
	StoreBackend        string
	MessagesTable       string
	SQLitePath          string
	FirebaseProjectID   string
	MaxTextLength       int
	InferenceParameters map[string]any
	TextKeys            []string
	ListenAddr          string
	MetricsAPIKey       string
	Debug               bool
}

// Load reads the environment. Values that are present but unparseable are
// reported as errors rather than silently defaulted.
func Load() (Config, error) {
	cfg := Config{
		Region:            firstEnv("AWS_REGION", "AWS_DEFAULT_REGION"),
		EndpointName:      strings.TrimSpace(os.Getenv("AWS_SAGEMAKER_ENDPOINT_NAME")),
		ParamPrefix:       strings.TrimRight(strings.TrimSpace(os.Getenv("PARAM_PREFIX")), "/"),
		StoreBackend:      strings.ToLower(envOrDefault("STORE_BACKEND", BackendDynamoDB)),
		MessagesTable:     strings.TrimSpace(os.Getenv("MESSAGES_TABLE")),
		SQLitePath:        envOrDefault("SQLITE_PATH", defaultSQLitePath),
		FirebaseProjectID: firstEnv("FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
		TextKeys:          splitList(os.Getenv("INFERENCE_TEXT_KEYS")),
		ListenAddr:        envOrDefault("LISTEN_ADDR", defaultListenAddr),
		MetricsAPIKey:     os.Getenv("METRICS_API_KEY"),
		Debug:             envBoolOrDefault("DEBUG", false),
	}

	switch cfg.StoreBackend {
	case BackendDynamoDB, BackendSQLite:
	default:
		return Config{}, errors.Errorf("config: STORE_BACKEND must be %q or %q, got %q", BackendDynamoDB, BackendSQLite, cfg.StoreBackend)
	}

	maxText, err := envInt("MAX_TEXT_LENGTH", defaultMaxTextLength)
	if err != nil {
		return Config{}, err
	}
	if maxText <= 0 {
		return Config{}, errors.Errorf("config: MAX_TEXT_LENGTH must be positive, got %d", maxText)
	}
	cfg.MaxTextLength = maxText

	if raw := strings.TrimSpace(os.Getenv("INFERENCE_PARAMETERS")); raw != "" {
		params, err := ParseParameters(raw)
		if err != nil {
			return Config{}, errors.Wrap(err, "config: INFERENCE_PARAMETERS")
		}
		cfg.InferenceParameters = params
	}
	return cfg, nil
}

// ValidateChat reports settings the chat endpoint cannot run without.
func (c Config) ValidateChat() error {
	if c.FirebaseProjectID == "" {
		return errors.New("config: FIREBASE_PROJECT_ID (or GOOGLE_CLOUD_PROJECT) is required")
	}
	if c.StoreBackend == BackendDynamoDB && c.MessagesTable == "" {
		return errors.New("config: MESSAGES_TABLE is required when STORE_BACKEND=dynamodb")
	}
	if c.StoreBackend == BackendSQLite && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("config: SQLITE_PATH is required when STORE_BACKEND=sqlite")
	}
	return nil
}

// ParseParameters decodes a JSON object of inference parameters. Numbers keep
// their literal form.
func ParseParameters(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, errors.Wrap(err, "parse inference parameters")
	}
	if dec.More() {
		return nil, errors.New("parse inference parameters: trailing data")
	}
	if params == nil {
		return nil, errors.New("parse inference parameters: expected a JSON object")
	}
	return params, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	return n, nil
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
