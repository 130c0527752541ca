package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

// The fallback form is matched first so ${VAR:-default} never decays
// into a plain ${VAR} lookup with a dangling ":-default" suffix.
var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	envBare        = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// ExpandEnvVarsInData walks a decoded YAML tree and expands $VAR,
// ${VAR} and ${VAR:-default} references in every string value. An
// expanded value is re-typed as the YAML scalar it reads as, so
// PORT=8080 lands as an int where the schema expects one.
func ExpandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := expandString(v)
		if expanded == v {
			return v
		}
		return retype(expanded)

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = ExpandEnvVarsInData(value)
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ExpandEnvVarsInData(item)
		}
		return out

	default:
		return v
	}
}

func expandString(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	s = envWithDefault.ReplaceAllStringFunc(s, func(ref string) string {
		parts := envWithDefault.FindStringSubmatch(ref)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envBraced.FindStringSubmatch(ref)[1])
	})
	return envBare.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envBare.FindStringSubmatch(ref)[1])
	})
}

func retype(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// ProviderAPIKey returns the conventional environment variable holding
// a provider's API key, or "" for providers that need none.
func ProviderAPIKey(providerType string) string {
	switch providerType {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}
