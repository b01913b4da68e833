package config

import (
	"os"
	"strings"
)

// AllowZeroCostSnapshot restores the legacy behavior where a sale/return line
// whose cost fallback chain (weighted average -> unit default -> product
// default) still resolves to zero is accepted with a zero cost snapshot.
// The default is to reject such lines before any mutation.
//
// Set via env:
// - ALLOW_ZERO_COST_SNAPSHOT=true
func AllowZeroCostSnapshot() bool {
	return boolFromEnv("ALLOW_ZERO_COST_SNAPSHOT")
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
