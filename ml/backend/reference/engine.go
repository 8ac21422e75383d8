// engine.go - Referenz-Engine in reinem Go
// Enthält: Engine struct, init() Registrierung, Arena der nativen Ressourcen
//
// Die Engine verwaltet alle Ressourcen (Buffer und Sessions) in einer Arena,
// die ueber numerische IDs adressiert wird. Ein Aufruf mit einer bereits
// freigegebenen ID wird abgelehnt und niemals dereferenziert.

package reference

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tensorio/bridge/logutil"
	"github.com/tensorio/bridge/ml"
)

func init() {
	ml.RegisterEngine("reference", func() (ml.Engine, error) {
		return New(), nil
	})
}

// resource ist ein Eintrag in der Arena
type resource interface {
	kind() string
}

// Engine ist die Referenz-Implementierung von ml.Engine
type Engine struct {
	mu     sync.Mutex
	next   uint64
	arena  map[uint64]resource
	allocs uint64
	frees  uint64
}

// New erstellt eine leere Engine. Jede Engine hat ihre eigene Arena.
func New() *Engine {
	return &Engine{arena: make(map[uint64]resource)}
}

// Name gibt den Registrierungsnamen zurueck
func (e *Engine) Name() string {
	return "reference"
}

// Live gibt die Anzahl der lebenden Ressourcen zurueck
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.arena)
}

// LogValue gibt die Engine als slog-Wert zurueck
func (e *Engine) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slog.GroupValue(
		slog.String("name", e.Name()),
		slog.Int("live", len(e.arena)),
		slog.Uint64("allocs", e.allocs),
		slog.Uint64("frees", e.frees),
	)
}

// NewBuffer allokiert einen genullten Buffer
func (e *Engine) NewBuffer(dtype ml.DType, shape []int) (ml.Buffer, error) {
	if err := ml.ValidateShape(shape); err != nil {
		return nil, err
	}

	size, err := dtype.Size()
	if err != nil {
		return nil, err
	}

	return e.alloc(dtype, shape, make([]byte, size*ml.Count(shape))), nil
}

// alloc registriert data als neuen Buffer. data wird uebernommen, nicht kopiert.
func (e *Engine) alloc(dtype ml.DType, shape []int, data []byte) *Buffer {
	st := &storage{data: data}
	id := e.insert(st)

	logutil.Trace("buffer allocated", "id", id, "dtype", dtype, "shape", shape, "bytes", len(data))
	return &Buffer{e: e, id: id, dtype: dtype, shape: append([]int{}, shape...)}
}

func (e *Engine) insert(r resource) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.allocs++
	e.arena[e.next] = r
	return e.next
}

// lookup gibt die Ressource fuer id zurueck, wenn sie lebt und die erwartete Art hat
func lookup[T resource](e *Engine, id uint64) (T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero T
	r, ok := e.arena[id]
	if !ok {
		return zero, fmt.Errorf("%w: stale id %d", ml.ErrResourceNotBound, id)
	}

	t, ok := r.(T)
	if !ok {
		return zero, fmt.Errorf("%w: id %d is a %s", ml.ErrResourceNotBound, id, r.kind())
	}

	return t, nil
}

// remove gibt id frei. Eine zweite Freigabe schlaegt fehl.
func (e *Engine) remove(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.arena[id]
	if !ok {
		return fmt.Errorf("%w: double free of id %d", ml.ErrResourceNotBound, id)
	}

	delete(e.arena, id)
	e.frees++
	logutil.Trace("resource freed", "id", id, "kind", r.kind())
	return nil
}
