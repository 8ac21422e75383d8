// config_features.go - Engine-Auswahl und Parallelitaets-Konfiguration
//
// Dieses Modul enthaelt:
// - Engine und Library-Pfade der Native Engines
// - Parallelitaets-Einstellungen des Servers
package envconfig

// =============================================================================
// Engine-Konfiguration
// =============================================================================

var (
	// OrtLibrary ist der Pfad zur onnxruntime Shared Library
	OrtLibrary = String("TIO_ORT_LIBRARY")
)

// Engine gibt den Namen der Native Engine zurueck
// Konfigurierbar via TIO_ENGINE
// Default: reference
func Engine() string {
	if s := Var("TIO_ENGINE"); s != "" {
		return s
	}
	return "reference"
}

// =============================================================================
// Parallelitaets-Einstellungen
// =============================================================================

var (
	// NumParallel begrenzt gleichzeitige native Aufrufe ueber alle Bundles
	// Konfigurierbar via TIO_NUM_PARALLEL
	NumParallel = Uint("TIO_NUM_PARALLEL", 1)

	// MaxBundles begrenzt die Anzahl geladener Bundles im Server (0 = unbegrenzt)
	// Konfigurierbar via TIO_MAX_BUNDLES
	MaxBundles = Uint("TIO_MAX_BUNDLES", 0)
)
