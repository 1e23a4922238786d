// Package config holds the small environment-variable helpers shared by
// every cmd/ entry point, in the teacher's getenv-with-fallback idiom.
package config

import (
	"os"
	"strconv"
)

// String returns the environment variable at key, or fallback if unset
// or empty.
func String(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// Int parses the environment variable at key as an int, or returns
// fallback if unset or unparseable.
func Int(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// Float returns the environment variable at key as a float64, or
// fallback if unset or unparseable.
func Float(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// Bool returns the environment variable at key as a bool, or fallback if
// unset or unparseable.
func Bool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
