// Package config reads the service configuration from the environment.
// It is only called from the entrypoints.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxContentLength         = 2000
	defaultInboxPollInterval        = 10 * time.Second
	defaultConversationPollInterval = 3 * time.Second
	defaultDevAddr                  = ":8080"
)

type Config struct {
	TableName   string
	ParamPrefix string
	// JWTSecret, when set, is used instead of the Parameter Store secret.
	JWTSecret string

	MaxContentLength         int
	InboxPollInterval        time.Duration
	ConversationPollInterval time.Duration

	// DynamoDBEndpoint points the SDK at DynamoDB Local.
	DynamoDBEndpoint string
	DevAddr          string
	CORSAllowOrigins []string
}

// Load builds a Config from getenv, usually os.Getenv. Missing required keys
// and malformed values are reported together.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		return Config{}, errors.New("config: getenv must not be nil")
	}
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	var errs []error
	cfg := Config{
		TableName:        env("TABLE_NAME"),
		ParamPrefix:      env("PARAM_PREFIX"),
		JWTSecret:        env("JWT_SECRET"),
		DynamoDBEndpoint: env("DYNAMODB_ENDPOINT"),
		DevAddr:          env("DEV_ADDR"),
		CORSAllowOrigins: splitList(env("CORS_ALLOW_ORIGINS")),
	}
	if cfg.TableName == "" {
		errs = append(errs, errors.New("TABLE_NAME is required"))
	}
	if cfg.ParamPrefix == "" && cfg.JWTSecret == "" {
		errs = append(errs, errors.New("PARAM_PREFIX is required when JWT_SECRET is not set"))
	}
	if cfg.DevAddr == "" {
		cfg.DevAddr = defaultDevAddr
	}

	var err error
	if cfg.MaxContentLength, err = envInt(env, "MAX_CONTENT_LENGTH", defaultMaxContentLength); err != nil {
		errs = append(errs, err)
	}
	if cfg.InboxPollInterval, err = envDuration(env, "INBOX_POLL_INTERVAL", defaultInboxPollInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConversationPollInterval, err = envDuration(env, "CONVERSATION_POLL_INTERVAL", defaultConversationPollInterval); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func envInt(env func(string) string, key string, def int) (int, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

// envDuration accepts Go durations ("10s") or a bare number of milliseconds.
func envDuration(env func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
