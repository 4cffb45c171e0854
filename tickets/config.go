package tickets

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"go.uber.org/config"
)

// Config is the recipe configuration as read from YAML. Validate turns it into
// a Recipe with closed enumerations.
type Config struct {
	Connection           ConnectionConfig
	TicketStatuses       []int
	LoggingLevel         string
	Endpoint             string
	PageSize             int
	IncludeConversations bool
	ExtraColumns         map[string]string
	Retry                RetryConfig
	RateLimit            RateLimitConfig
	Output               OutputConfig
	RecordRequests       string
}

// ConnectionConfig optionally carries credentials inline, normally through
// ${apiKey} style expansion. Left empty, the connection preset env var is used.
type ConnectionConfig struct {
	Domain string `yaml:"domain"`
	APIKey string `yaml:"apiKey"`
	Auth   string `yaml:"auth"`
}

func (c ConnectionConfig) IsConfigured() bool {
	return c.Domain != "" || c.APIKey != ""
}

type RetryConfig struct {
	MaxRateLimitRetries int    `yaml:"maxRateLimitRetries"`
	MaxTransientRetries int    `yaml:"maxTransientRetries"`
	BaseDelay           string `yaml:"baseDelay"`
	MaxDelay            string `yaml:"maxDelay"`
	FallbackRetryAfter  string `yaml:"fallbackRetryAfter"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
}

// OutputConfig selects the dataset writer used by the entrypoint.
type OutputConfig struct {
	Format  string `yaml:"format"`  // jsonl or sqlite
	Path    string `yaml:"path"`
	Gzip    bool   `yaml:"gzip"`
	Table   string `yaml:"table"`
	Columns string `yaml:"columns"` // optional CSV describing the dataset columns
}

// Recipe is a validated Config.
type Recipe struct {
	Settings          Settings
	Level             Level
	Retry             RetryPolicy
	RequestsPerMinute int
	Connection        ConnectionConfig
	Output            OutputConfig
	RecordRequests    string
}

// LoadConfig merges the YAML sources in order, expanding ${VAR} references
// through lookup.
func LoadConfig(lookup func(string) (string, bool), sources ...io.Reader) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		b, err := io.ReadAll(s)
		if err != nil {
			return result, fmt.Errorf("failed to read recipe config %w", err)
		}
		if len(bytes.TrimSpace(b)) > 0 {
			options = append(options, config.Source(bytes.NewReader(b)))
		}
	}
	if lookup != nil {
		options = append(options, config.Expand(lookup))
	}
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}

	fields := []struct {
		key    string
		target interface{}
	}{
		{"connection", &result.Connection},
		{"ticketStatuses", &result.TicketStatuses},
		{"loggingLevel", &result.LoggingLevel},
		{"endpoint", &result.Endpoint},
		{"pageSize", &result.PageSize},
		{"includeConversations", &result.IncludeConversations},
		{"extraColumns", &result.ExtraColumns},
		{"retry", &result.Retry},
		{"rateLimit", &result.RateLimit},
		{"output", &result.Output},
		{"recordRequests", &result.RecordRequests},
	}
	for _, f := range fields {
		value := yaml.Get(f.key)
		if !value.HasValue() {
			continue
		}
		if err = value.Populate(f.target); err != nil {
			return result, readError(f.key, err)
		}
	}

	return result, nil
}

// Validate checks every enumerated value at load time so that the run never
// meets an unexpected status, level or endpoint.
func (c Config) Validate() (Recipe, error) {
	var result Recipe

	statuses, err := NewStatusSet(c.TicketStatuses...)
	if err != nil {
		return result, err
	}
	level := LevelInfo
	if c.LoggingLevel != "" {
		if level, err = ParseLevel(c.LoggingLevel); err != nil {
			return result, err
		}
	}
	endpoint, err := ParseEndpoint(c.Endpoint)
	if err != nil {
		return result, err
	}
	if c.PageSize < 0 || c.PageSize > ListPageSize {
		return result, &ConfigError{Key: "pageSize", Reason: fmt.Sprintf("must be between 1 and %d", ListPageSize)}
	}
	if c.Connection.IsConfigured() {
		if _, err = ParseAuthScheme(c.Connection.Auth); err != nil {
			return result, err
		}
	}
	retry, err := c.Retry.policy()
	if err != nil {
		return result, err
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return result, &ConfigError{Key: "rateLimit.requestsPerMinute", Reason: "must not be negative"}
	}
	for _, name := range slices.Sorted(maps.Keys(c.ExtraColumns)) {
		if reservedColumn(columnName(name)) {
			return result, &ConfigError{Key: "extraColumns." + name, Reason: "collides with a built-in ticket column"}
		}
	}
	switch c.Output.Format {
	case "", "jsonl", "sqlite":
	default:
		return result, &ConfigError{Key: "output.format", Reason: "unsupported format " + c.Output.Format}
	}

	result = Recipe{
		Settings: Settings{
			Statuses:             statuses,
			Endpoint:             endpoint,
			PageSize:             c.PageSize,
			IncludeConversations: c.IncludeConversations,
			ExtraColumns:         c.ExtraColumns,
		},
		Level:             level,
		Retry:             retry,
		RequestsPerMinute: c.RateLimit.RequestsPerMinute,
		Connection:        c.Connection,
		Output:            c.Output,
		RecordRequests:    c.RecordRequests,
	}
	return result, nil
}

// policy fills unset values from DefaultRetryPolicy.
func (r RetryConfig) policy() (RetryPolicy, error) {
	result := DefaultRetryPolicy()
	if r.MaxRateLimitRetries < 0 || r.MaxTransientRetries < 0 {
		return result, &ConfigError{Key: "retry", Reason: "retry counts must not be negative"}
	}
	if r.MaxRateLimitRetries > 0 {
		result.MaxRateLimitRetries = r.MaxRateLimitRetries
	}
	if r.MaxTransientRetries > 0 {
		result.MaxTransientRetries = r.MaxTransientRetries
	}
	durations := []struct {
		key   string
		value string
		into  *time.Duration
	}{
		{"retry.baseDelay", r.BaseDelay, &result.BaseDelay},
		{"retry.maxDelay", r.MaxDelay, &result.MaxDelay},
		{"retry.fallbackRetryAfter", r.FallbackRetryAfter, &result.FallbackRetryAfter},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil || parsed < 0 {
			return result, &ConfigError{Key: d.key, Reason: fmt.Sprintf("invalid duration %q", d.value)}
		}
		*d.into = parsed
	}
	return result, nil
}
