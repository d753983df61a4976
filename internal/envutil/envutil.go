// Package envutil provides cached environment-variable lookups shared
// across redisx's configuration and CLI layers.
package envutil

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

// envCache stores previously fetched non-empty environment variable
// values so repeat lookups avoid the relatively expensive syscall
// interaction.
var envCache sync.Map // map[string]string

func getEnv(key string) (string, bool) {
	if v, ok := envCache.Load(key); ok {
		return v.(string), true
	}
	if v := os.Getenv(key); v != "" {
		envCache.Store(key, v)
		return v, true
	}
	return "", false
}

// ClearCache removes any cached value for key. Used in tests where
// environment variables are modified between calls.
func ClearCache(key string) {
	envCache.Delete(key)
}

// OrDefault returns the value of the environment variable identified by
// key, or fallback if it is unset or empty.
func OrDefault(key, fallback string) string {
	if v, ok := getEnv(key); ok {
		return v
	}
	return fallback
}

// OrDefaultInt returns the integer value of key, or fallback if it is
// unset, empty, or not parseable as an integer.
func OrDefaultInt(key string, fallback int) int {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// OrDefaultBool returns the boolean value of key, or fallback if unset,
// empty, or not parseable as a bool.
func OrDefaultBool(key string, fallback bool) bool {
	if v, ok := getEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
