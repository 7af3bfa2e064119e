package httprun

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Environment is the full parsed shape of an environment file: a profile
// name maps to its set of name/value pairs. Both the public and private
// files share this shape; LoadEnvironment overlays private onto public.
type Environment map[string]map[string]string

// LoadEnvironment reads the optional public and private environment files
// and returns the flat variable set for profile. Either path may be empty,
// meaning that file does not exist. A profile absent from both files is not
// an error: the caller runs with an empty environment (spec §4.2).
func LoadEnvironment(publicPath, privatePath, profile string) (map[string]string, error) {
	public, err := loadEnvironmentFile(publicPath)
	if err != nil {
		return nil, err
	}
	private, err := loadEnvironmentFile(privatePath)
	if err != nil {
		return nil, err
	}

	if profile != "" {
		if _, ok := public[profile]; !ok {
			if _, ok := private[profile]; !ok {
				slog.Debug("LoadEnvironment: selected profile not found in either environment file", "profile", profile)
			}
		}
	}

	merged := map[string]string{}
	for k, v := range public[profile] {
		merged[k] = v
	}
	for k, v := range private[profile] {
		merged[k] = v
	}
	return merged, nil
}

// loadEnvironmentFile decodes one environment JSON file into an Environment.
// An empty path or a missing file both yield a nil Environment with no
// error: both environment files are optional.
func loadEnvironmentFile(path string) (Environment, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("loadEnvironmentFile: environment file not found", "file", path)
			return nil, nil
		}
		slog.Warn("loadEnvironmentFile: failed to read environment file", "file", path, "error", err)
		return nil, &EnvError{Path: path, Err: err}
	}

	var decoded map[string]map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		slog.Warn("loadEnvironmentFile: failed to unmarshal environment file", "file", path, "error", err)
		return nil, &EnvError{Path: path, Err: err}
	}

	env := make(Environment, len(decoded))
	for profile, vars := range decoded {
		stringified := make(map[string]string, len(vars))
		for name, value := range vars {
			s, err := stringifyEnvValue(value)
			if err != nil {
				slog.Warn("loadEnvironmentFile: unsupported variable value", "file", path, "profile", profile, "variable", name, "error", err)
				return nil, &EnvError{Path: path, Err: fmt.Errorf("variable %q in profile %q: %w", name, profile, err)}
			}
			stringified[name] = s
		}
		env[profile] = stringified
	}
	slog.Debug("loadEnvironmentFile: loaded environment file", "file", path, "profiles", len(env))
	return env, nil
}

// stringifyEnvValue renders a decoded JSON scalar as the string a variable
// substitution needs. Objects and arrays have no sensible flat
// representation and are rejected.
func stringifyEnvValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value type %T, expected a string, number, or boolean", value)
	}
}
