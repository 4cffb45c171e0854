package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultConnectionEnvVar holds the connection preset as JSON, e.g.
// {"apiKey":"...","freshdesk_domain":"acme.freshdesk.com"}.
const DefaultConnectionEnvVar = "FRESHDESK_API_CONNECTION"

// CompositeEnvVar looks up a child key inside a structured environment variable.
type CompositeEnvVar interface {
	LookupEnv(child string) (string, bool)
}

// JSONCompositeEnvVar reads children from an env var holding a flat JSON object.
type JSONCompositeEnvVar struct {
	Parent string
}

func (c JSONCompositeEnvVar) LookupEnv(child string) (string, bool) {
	if c.Parent == "" {
		return "", false
	}
	s := os.Getenv(c.Parent)
	if s == "" {
		return "", false
	}
	m := make(map[string]string)
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return "", false
	}
	v, exists := m[child]
	return v, exists
}

// ExpandLookup resolves ${VAR} references in the recipe config: children of
// the composite env var first, then the process environment.
func ExpandLookup(compev CompositeEnvVar) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if compev != nil {
			if v, ok := compev.LookupEnv(key); ok {
				return v, true
			}
		}
		return os.LookupEnv(key)
	}
}

// CredentialSource is the connection preset collaborator. It is resolved once
// at startup.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// EnvCredentialSource reads credentials from a JSON composite env var using
// the connection preset's key names.
type EnvCredentialSource struct {
	EnvVar CompositeEnvVar
}

func (s EnvCredentialSource) Credentials(ctx context.Context) (Credentials, error) {
	var result Credentials
	apiKey, hasKey := s.EnvVar.LookupEnv("apiKey")
	domain, hasDomain := s.EnvVar.LookupEnv("freshdesk_domain")
	if !hasKey || apiKey == "" || !hasDomain || domain == "" {
		return result, &ConfigError{Key: "connection", Reason: "preset must provide apiKey and freshdesk_domain"}
	}
	auth, _ := s.EnvVar.LookupEnv("auth")
	scheme, err := ParseAuthScheme(auth)
	if err != nil {
		return result, err
	}
	result = Credentials{Domain: domain, APIKey: apiKey, Auth: scheme}
	return result, nil
}

// StaticCredentials serves credentials that were already resolved, e.g. from
// the recipe config.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(ctx context.Context) (Credentials, error) {
	if s.Domain == "" || s.APIKey == "" {
		return Credentials{}, &ConfigError{Key: "connection", Reason: "domain and apiKey are required"}
	}
	return Credentials(s), nil
}

// ParseAuthScheme accepts "basic" (also the default for "") or "bearer".
func ParseAuthScheme(s string) (AuthScheme, error) {
	switch AuthScheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", AuthBasic:
		return AuthBasic, nil
	case AuthBearer:
		return AuthBearer, nil
	}
	return "", &ConfigError{Key: "connection.auth", Reason: fmt.Sprintf("unsupported auth scheme %q", s)}
}
