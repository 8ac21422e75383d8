// session.go - Schnittstellen zur Native Engine: Buffer, Session, Signatur
// Dieses Modul definiert, was eine Engine der Bridge anbieten muss.
package ml

import (
	"context"
	"log/slog"
	"slices"
)

// TensorInfo describes a named tensor exposed by a loaded graph. A dimension of
// -1 matches any size.
type TensorInfo struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
	Shape []int  `json:"shape"`
}

// Matches reports whether a concrete dtype and shape are compatible with the
// declared info.
func (ti TensorInfo) Matches(dtype DType, shape []int) bool {
	if dtype != ti.DType || len(shape) != len(ti.Shape) {
		return false
	}

	for i, d := range ti.Shape {
		if d >= 0 && d != shape[i] {
			return false
		}
	}

	return true
}

// LogValue gibt die TensorInfo als slog-Wert zurueck
func (ti TensorInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", ti.Name),
		slog.String("dtype", ti.DType.String()),
		slog.Any("shape", ti.Shape),
	)
}

// Signature lists the tensors and training targets of a loaded graph.
type Signature struct {
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
	Targets []string     `json:"targets,omitempty"`
}

// Input looks up an input by name.
func (s Signature) Input(name string) (TensorInfo, bool) {
	i := slices.IndexFunc(s.Inputs, func(ti TensorInfo) bool { return ti.Name == name })
	if i < 0 {
		return TensorInfo{}, false
	}
	return s.Inputs[i], true
}

// Output looks up an output by name.
func (s Signature) Output(name string) (TensorInfo, bool) {
	i := slices.IndexFunc(s.Outputs, func(ti TensorInfo) bool { return ti.Name == name })
	if i < 0 {
		return TensorInfo{}, false
	}
	return s.Outputs[i], true
}

// HasTarget reports whether name is a training target of the graph.
func (s Signature) HasTarget(name string) bool {
	return slices.Contains(s.Targets, name)
}

// Buffer is a native tensor allocation. Bytes and FromBytes use the platform
// native byte order with row-major element ordering. Every method on a freed
// buffer fails with ErrResourceNotBound.
type Buffer interface {
	DType() DType
	Shape() []int

	// Bytes returns a copy of the backing memory.
	Bytes() ([]byte, error)

	// FromBytes overwrites the backing memory. len(b) must equal the
	// allocation size.
	FromBytes(b []byte) error

	// Free releases the allocation. Freeing twice fails.
	Free() error
}

// Feed binds an input buffer to a graph input name.
type Feed struct {
	Name   string
	Buffer Buffer
}

// Session is a loaded graph inside the engine.
type Session interface {
	Signature() Signature

	// Run evaluates fetches after executing targets. Returned buffers are owned
	// by the caller, one per fetch and in the same order. The context is used
	// for log scoping only, a native call is never aborted.
	Run(ctx context.Context, feeds []Feed, fetches []string, targets []string) ([]Buffer, error)

	// Save writes the variables of the session as a checkpoint with the given
	// path prefix.
	Save(prefix string) error

	Close() error
}
