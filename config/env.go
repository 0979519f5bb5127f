package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvInt reads an integer environment variable. The second return value
// reports whether the variable was set at all.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false, nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return value, true, nil
}

// EnvString reads a string environment variable, treating an empty value
// as unset.
func EnvString(name string) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return raw, true
}

// EnvBool reads a boolean environment variable.
func EnvBool(name string) (bool, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return false, false, nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s must be a boolean, got %q", name, raw)
	}
	return value, true, nil
}
