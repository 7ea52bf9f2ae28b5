// Package utils provides typed accessors over the map[string]any parameter
// bundles that flow between the network description, the builder and the engine.
package utils

import "fmt"

// GetString safely extracts a string from a map, returning defaultVal if not found or wrong type.
func GetString(m map[string]any, key, defaultVal string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return defaultVal
}

// GetNumber extracts any numeric value from a map as a float64.
// YAML decoding yields int for integral literals and float64 otherwise, so both are accepted.
func GetNumber(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// GetFloat64 extracts a numeric value as float64, returning defaultVal if absent or non-numeric.
func GetFloat64(m map[string]any, key string, defaultVal float64) float64 {
	if v, ok := GetNumber(m, key); ok {
		return v
	}
	return defaultVal
}

// GetInt extracts an int from a map.
// Also handles float64 (common from JSON) by truncating.
func GetInt(m map[string]any, key string, defaultVal int) int {
	if v, ok := GetNumber(m, key); ok {
		return int(v)
	}
	return defaultVal
}

// Describe renders a map value for diagnostics, or fallback if the key is absent.
func Describe(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}
	return fmt.Sprintf("%v", v)
}
