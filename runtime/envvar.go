package runtime

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvVarSpec represents a parsed environment variable specification
type EnvVarSpec struct {
	// VarName is the environment variable name (e.g., "REDIS_ADDR")
	VarName string

	// HasDefault indicates if a default value was provided
	HasDefault bool

	// DefaultValue is the default value if HasDefault is true
	DefaultValue string

	// IsLiteral indicates if this is a literal value (not an env var)
	IsLiteral bool

	// LiteralValue is the literal value if IsLiteral is true
	LiteralValue string
}

// envVarPattern matches ${VAR} and ${VAR:default} syntax
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// ParseEnvVar parses a config value that may reference an environment variable.
//
//	ParseEnvVar("${PLUGIN_DIR}")             -> required env var "PLUGIN_DIR"
//	ParseEnvVar("${PLUGIN_DIR:/opt/plugins}") -> env var with default
//	ParseEnvVar("/opt/plugins")               -> literal value
//	ParseEnvVar("${plugin-dir}")              -> literal, the name is not valid
func ParseEnvVar(value string) (*EnvVarSpec, error) {
	matches := envVarPattern.FindStringSubmatch(value)
	if matches == nil {
		return &EnvVarSpec{IsLiteral: true, LiteralValue: value}, nil
	}

	spec := &EnvVarSpec{
		VarName:    matches[1],
		HasDefault: matches[2] != "",
	}
	if spec.HasDefault {
		spec.DefaultValue = strings.TrimPrefix(matches[2], ":")
	}
	return spec, nil
}

// Resolve returns the environment value, falling back to the default.
func (s *EnvVarSpec) Resolve() (string, error) {
	if s.IsLiteral {
		return s.LiteralValue, nil
	}
	if v, ok := os.LookupEnv(s.VarName); ok {
		return v, nil
	}
	if s.HasDefault {
		return s.DefaultValue, nil
	}
	return "", fmt.Errorf("required environment variable %s is not set", s.VarName)
}

// ExpandEnvValues resolves env var references in every string of a nested map.
func ExpandEnvValues(m map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			nested, err := ExpandEnvValues(val)
			if err != nil {
				return nil, err
			}
			result[k] = nested
		case string:
			spec, err := ParseEnvVar(val)
			if err != nil {
				return nil, fmt.Errorf("config %q: %w", k, err)
			}
			resolved, err := spec.Resolve()
			if err != nil {
				return nil, fmt.Errorf("config %q: %w", k, err)
			}
			result[k] = resolved
		default:
			result[k] = val
		}
	}
	return result, nil
}
