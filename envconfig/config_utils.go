// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TIO_DEBUG":        {"TIO_DEBUG", LogLevel(), "Show additional debug information (e.g. TIO_DEBUG=1)"},
		"TIO_ENGINE":       {"TIO_ENGINE", Engine(), "Native engine used to load bundles (default: reference)"},
		"TIO_HOST":         {"TIO_HOST", Host(), "IP Address for the tensorio server (default 127.0.0.1:8765)"},
		"TIO_MAX_BUNDLES":  {"TIO_MAX_BUNDLES", MaxBundles(), "Maximum number of bundles loaded by the server (0 = unlimited)"},
		"TIO_MODELS":       {"TIO_MODELS", Models(), "Base directory for relative bundle paths"},
		"TIO_NUM_PARALLEL": {"TIO_NUM_PARALLEL", NumParallel(), "Maximum number of concurrent native calls"},
		"TIO_ORIGINS":      {"TIO_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"TIO_ORT_LIBRARY":  {"TIO_ORT_LIBRARY", OrtLibrary(), "Path to the onnxruntime shared library"},
		"TIO_PRELOAD":      {"TIO_PRELOAD", Preload(), "Comma separated bundles to load on server start (path or path:train)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
