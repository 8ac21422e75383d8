//go:build onnx && cgo

// MODUL: onnx/engine
// ZWECK: ml.Engine auf Basis der ONNX Runtime (nur Serve-Modus)
// INPUT: Bundle-Verzeichnis mit predict/model.onnx, Host-Buffer
// OUTPUT: Sessions und Buffer fuer die Bridge
// NEBENEFFEKTE: Initialisiert die ONNX Runtime einmalig pro Prozess
// ABHAENGIGKEITEN: onnxruntime_go, envconfig (TIO_ORT_LIBRARY)
// HINWEISE: Buffer liegen im Go-Heap, ORT-Tensoren existieren nur waehrend Run

package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/tensorio/bridge/envconfig"
	"github.com/tensorio/bridge/logutil"
	"github.com/tensorio/bridge/ml"
)

// ModelFile ist der Dateiname des Modells im predict-Verzeichnis
const ModelFile = "model.onnx"

func init() {
	ml.RegisterEngine("onnx", func() (ml.Engine, error) {
		if err := InitRuntime(); err != nil {
			return nil, err
		}
		return &Engine{}, nil
	})
}

// ============================================================================
// Runtime Initialisierung (Singleton)
// ============================================================================

// InitRuntime initialisiert die ONNX Runtime einmalig. Der Pfad zur Shared
// Library kommt aus TIO_ORT_LIBRARY.
var InitRuntime = sync.OnceValue(func() error {
	if lib := envconfig.OrtLibrary(); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}

	if ort.IsInitialized() {
		return nil
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnxruntime init: %w", err)
	}

	slog.Info("onnxruntime initialized", "library", envconfig.OrtLibrary())
	return nil
})

// ============================================================================
// Engine
// ============================================================================

// Engine implementiert ml.Engine mit onnxruntime
type Engine struct {
	mu   sync.Mutex
	live int
}

func (e *Engine) Name() string {
	return "onnx"
}

func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

func (e *Engine) track(delta int) {
	e.mu.Lock()
	e.live += delta
	e.mu.Unlock()
}

func (e *Engine) NewBuffer(dtype ml.DType, shape []int) (ml.Buffer, error) {
	if err := ml.ValidateShape(shape); err != nil {
		return nil, err
	}

	if _, err := elementType(dtype); err != nil {
		return nil, err
	}

	size, err := dtype.Size()
	if err != nil {
		return nil, err
	}

	return e.newBuffer(dtype, shape, make([]byte, size*ml.Count(shape))), nil
}

func (e *Engine) newBuffer(dtype ml.DType, shape []int, data []byte) *Buffer {
	e.track(1)
	logutil.Trace("onnx buffer allocated", "dtype", dtype, "shape", shape, "bytes", len(data))
	return &Buffer{e: e, dtype: dtype, shape: slices.Clone(shape), data: data}
}

// ============================================================================
// Buffer
// ============================================================================

// Buffer haelt die Tensor-Bytes im Go-Heap
type Buffer struct {
	e     *Engine
	dtype ml.DType
	shape []int
	data  []byte
}

func (b *Buffer) DType() ml.DType { return b.dtype }
func (b *Buffer) Shape() []int    { return slices.Clone(b.shape) }

func (b *Buffer) Bytes() ([]byte, error) {
	if b.data == nil {
		return nil, fmt.Errorf("%w: onnx buffer was freed", ml.ErrResourceNotBound)
	}
	return slices.Clone(b.data), nil
}

func (b *Buffer) FromBytes(p []byte) error {
	if b.data == nil {
		return fmt.Errorf("%w: onnx buffer was freed", ml.ErrResourceNotBound)
	}
	if len(p) != len(b.data) {
		return &ml.SizeMismatchError{Want: len(b.data), Got: len(p)}
	}
	copy(b.data, p)
	return nil
}

func (b *Buffer) Free() error {
	if b.data == nil {
		return fmt.Errorf("%w: onnx buffer freed twice", ml.ErrResourceNotBound)
	}
	b.data = nil
	b.e.track(-1)
	return nil
}

// tensor erstellt einen ORT-Tensor ueber einer Kopie der Bytes. Der Aufrufer
// muss Destroy aufrufen.
func (b *Buffer) tensor() (ort.Value, error) {
	if b.data == nil {
		return nil, fmt.Errorf("%w: onnx buffer was freed", ml.ErrResourceNotBound)
	}

	et, err := elementType(b.dtype)
	if err != nil {
		return nil, err
	}

	shape := make([]int64, len(b.shape))
	for i, d := range b.shape {
		shape[i] = int64(d)
	}

	return ort.NewCustomDataTensor(ort.NewShape(shape...), slices.Clone(b.data), et)
}

// ============================================================================
// Typ-Abbildung
// ============================================================================

var errUnsupportedElement = errors.New("unsupported onnx element type")

func elementType(dtype ml.DType) (ort.TensorElementDataType, error) {
	switch dtype {
	case ml.DTypeFloat32:
		return ort.TensorElementDataTypeFloat, nil
	case ml.DTypeInt32:
		return ort.TensorElementDataTypeInt32, nil
	case ml.DTypeUInt8:
		return ort.TensorElementDataTypeUint8, nil
	case ml.DTypeInt64:
		return ort.TensorElementDataTypeInt64, nil
	default:
		return 0, fmt.Errorf("%w: %s", ml.ErrUnsupportedDType, dtype)
	}
}

func dtypeOf(et ort.TensorElementDataType) (ml.DType, error) {
	switch et {
	case ort.TensorElementDataTypeFloat:
		return ml.DTypeFloat32, nil
	case ort.TensorElementDataTypeInt32:
		return ml.DTypeInt32, nil
	case ort.TensorElementDataTypeUint8:
		return ml.DTypeUInt8, nil
	case ort.TensorElementDataTypeInt64:
		return ml.DTypeInt64, nil
	default:
		return 0, fmt.Errorf("%w: %v", errUnsupportedElement, et)
	}
}

