// backend.go - Engine-Interface und Registrierung der Native Engines
// Dieses Modul definiert das Engine-Interface und die Engine-Factory-Funktionen.
package ml

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/tensorio/bridge/envconfig"
)

// Engine is a native tensor runtime. Implementations must be safe for
// concurrent use; sessions and buffers they hand out are not.
type Engine interface {
	Name() string

	// NewBuffer allocates a zeroed native buffer for dtype and shape.
	NewBuffer(dtype DType, shape []int) (Buffer, error)

	// Load loads the graph stored in dir for mode. A graph the engine cannot
	// use is reported with ErrNativeLoad.
	Load(dir string, mode Mode) (Session, error)

	// Live returns the number of native resources currently allocated.
	Live() int
}

var (
	enginesMu sync.Mutex
	engines   = make(map[string]func() (Engine, error))
)

// RegisterEngine registers an engine factory under name.
func RegisterEngine(name string, f func() (Engine, error)) {
	enginesMu.Lock()
	defer enginesMu.Unlock()

	if _, ok := engines[name]; ok {
		panic("engine: engine already registered: " + name)
	}

	engines[name] = f
}

// Engines returns the names of all registered engines.
func Engines() []string {
	enginesMu.Lock()
	defer enginesMu.Unlock()

	return slices.Sorted(maps.Keys(engines))
}

// NewEngine creates an engine instance by name.
func NewEngine(name string) (Engine, error) {
	enginesMu.Lock()
	f, ok := engines[name]
	enginesMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unsupported engine %q (registered: %v)", name, Engines())
	}

	return f()
}

// DefaultEngine returns the process-wide engine selected by TIO_ENGINE. It is
// created once and lives until the process exits.
var DefaultEngine = sync.OnceValues(func() (Engine, error) {
	name := envconfig.Engine()
	e, err := NewEngine(name)
	if err != nil {
		return nil, err
	}

	slog.Info("native engine initialized", "engine", e.Name())
	return e, nil
})
