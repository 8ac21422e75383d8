// tensor.go - Tensor-Deskriptor der Bridge
// Enthält: Tensor struct, NewTensor, SetBytes/Bytes, Lebenszyklus des Buffers
//
// Ein Tensor beschreibt einen benannten, typisierten Slot. Der native Buffer
// wird erst beim ersten Schreiben angelegt oder von der Engine als Output
// gebunden.

package savedmodel

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/tensorio/bridge/ml"
)

// Tensor ist ein Deskriptor mit optionalem nativen Buffer. Name, dtype und
// shape sind unveraenderlich. Ein Tensor ist nicht thread-sicher.
type Tensor struct {
	dtype ml.DType
	shape []int
	name  string

	engine ml.Engine
	h      *ml.Handle[ml.Buffer]
}

// NewTensor erstellt einen ungebundenen Deskriptor. Alle Dimensionen muessen
// positiv sein, eine leere shape beschreibt einen Skalar.
func NewTensor(dtype ml.DType, shape []int, name string, opts ...Option) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: code %d", ml.ErrUnsupportedDType, dtype.Code())
	}

	if err := ml.ValidateShape(shape); err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}

	o := newOptions(opts)
	return &Tensor{
		dtype:  dtype,
		shape:  slices.Clone(shape),
		name:   name,
		engine: o.engine,
		h:      ml.NewHandle("tensor "+name, freeBuffer),
	}, nil
}

// NewTensorFrom erstellt einen Deskriptor und schreibt b hinein.
func NewTensorFrom(dtype ml.DType, shape []int, name string, b []byte, opts ...Option) (*Tensor, error) {
	t, err := NewTensor(dtype, shape, name, opts...)
	if err != nil {
		return nil, err
	}

	if err := t.SetBytes(b); err != nil {
		t.Close()
		return nil, err
	}

	return t, nil
}

func freeBuffer(b ml.Buffer) error {
	return b.Free()
}

func (t *Tensor) Name() string {
	return t.name
}

func (t *Tensor) DType() ml.DType {
	return t.dtype
}

// Shape gibt eine Kopie der shape zurueck
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Count ist die Anzahl der Elemente
func (t *Tensor) Count() int {
	return ml.Count(t.shape)
}

// ByteSize ist Count mal Elementbreite. Fuer string gibt es keine Groesse.
func (t *Tensor) ByteSize() (int, error) {
	width, err := t.dtype.Size()
	if err != nil {
		return 0, fmt.Errorf("tensor %q: %w", t.name, err)
	}
	return width * t.Count(), nil
}

// State gibt den Zustand des nativen Buffers zurueck
func (t *Tensor) State() ml.HandleState {
	return t.h.State()
}

// Info gibt Name, dtype und shape als TensorInfo zurueck
func (t *Tensor) Info() ml.TensorInfo {
	return ml.TensorInfo{Name: t.name, DType: t.dtype, Shape: t.Shape()}
}

// LogValue gibt den Tensor als slog-Wert zurueck
func (t *Tensor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", t.name),
		slog.String("dtype", t.dtype.String()),
		slog.Any("shape", t.shape),
		slog.String("state", t.h.State().String()),
	)
}

// SetBytes kopiert b in den nativen Buffer. len(b) muss ByteSize entsprechen.
// Beim ersten Aufruf wird ein Buffer genau dieser Groesse angelegt, spaetere
// Aufrufe ueberschreiben ihn.
func (t *Tensor) SetBytes(b []byte) error {
	size, err := t.ByteSize()
	if err != nil {
		return err
	}

	if len(b) != size {
		return &ml.SizeMismatchError{Name: t.name, Want: size, Got: len(b)}
	}

	if err := t.h.Acquire(t.alloc); err != nil {
		return err
	}

	buf, err := t.h.Get()
	if err != nil {
		return err
	}

	return buf.FromBytes(b)
}

func (t *Tensor) alloc() (ml.Buffer, error) {
	if t.engine == nil {
		e, err := ml.DefaultEngine()
		if err != nil {
			return nil, err
		}
		t.engine = e
	}

	return t.engine.NewBuffer(t.dtype, t.shape)
}

// Bytes gibt eine Kopie der ByteSize Bytes des Buffers zurueck.
func (t *Tensor) Bytes() ([]byte, error) {
	if _, err := t.ByteSize(); err != nil {
		return nil, err
	}

	buf, err := t.h.Get()
	if err != nil {
		return nil, err
	}

	return buf.Bytes()
}

// Close gibt den nativen Buffer frei. Mehrfaches Schliessen ist erlaubt.
func (t *Tensor) Close() error {
	return t.h.Release()
}

// buffer gibt den gebundenen Buffer fuer die Uebergabe an die Engine zurueck
func (t *Tensor) buffer() (ml.Buffer, error) {
	return t.h.Get()
}

// bind uebernimmt einen von der Engine produzierten Buffer. Ein vorher
// gebundener Buffer wird freigegeben.
func (t *Tensor) bind(buf ml.Buffer, e ml.Engine) error {
	if err := t.h.Bind(buf); err != nil {
		return err
	}
	t.engine = e
	return nil
}
