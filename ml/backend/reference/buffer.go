// buffer.go - Buffer der Referenz-Engine
// Enthält: Buffer (ml.Buffer), storage, Konvertierung zwischen Bytes und float64

package reference

import (
	"encoding/binary"
	"log/slog"
	"math"
	"slices"

	"github.com/tensorio/bridge/ml"
)

// storage haelt die Bytes eines Buffers in der Arena
type storage struct {
	data []byte
}

func (*storage) kind() string { return "buffer" }

// Buffer ist ein Verweis auf einen Arena-Eintrag. Der Verweis selbst haelt
// keinen Speicher, nach Free schlagen alle Methoden fehl.
type Buffer struct {
	e     *Engine
	id    uint64
	dtype ml.DType
	shape []int
}

// LogValue gibt den Buffer als slog-Wert zurueck
func (b *Buffer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", b.id),
		slog.String("dtype", b.dtype.String()),
		slog.Any("shape", b.shape),
	)
}

func (b *Buffer) DType() ml.DType {
	return b.dtype
}

func (b *Buffer) Shape() []int {
	return slices.Clone(b.shape)
}

func (b *Buffer) Bytes() ([]byte, error) {
	st, err := lookup[*storage](b.e, b.id)
	if err != nil {
		return nil, err
	}

	return slices.Clone(st.data), nil
}

func (b *Buffer) FromBytes(p []byte) error {
	st, err := lookup[*storage](b.e, b.id)
	if err != nil {
		return err
	}

	if len(p) != len(st.data) {
		return &ml.SizeMismatchError{Want: len(st.data), Got: len(p)}
	}

	copy(st.data, p)
	return nil
}

func (b *Buffer) Free() error {
	return b.e.remove(b.id)
}

// values liest den Buffer als float64-Werte
func (b *Buffer) values() (*value, error) {
	st, err := lookup[*storage](b.e, b.id)
	if err != nil {
		return nil, err
	}

	return decode(b.dtype, b.shape, st.data)
}

// =============================================================================
// Konvertierung
// =============================================================================

// decode wandelt native Bytes in float64-Werte. Die Engine rechnet intern
// immer in float64.
func decode(dtype ml.DType, shape []int, data []byte) (*value, error) {
	width, err := dtype.Size()
	if err != nil {
		return nil, err
	}

	n := ml.Count(shape)
	if len(data) != width*n {
		return nil, &ml.SizeMismatchError{Want: width * n, Got: len(data)}
	}

	v := &value{dtype: dtype, shape: slices.Clone(shape), data: make([]float64, n)}
	for i := range n {
		p := data[i*width:]
		switch dtype {
		case ml.DTypeFloat32:
			v.data[i] = float64(math.Float32frombits(binary.NativeEndian.Uint32(p)))
		case ml.DTypeInt32:
			v.data[i] = float64(int32(binary.NativeEndian.Uint32(p)))
		case ml.DTypeInt64:
			v.data[i] = float64(int64(binary.NativeEndian.Uint64(p)))
		case ml.DTypeUInt8:
			v.data[i] = float64(p[0])
		}
	}

	return v, nil
}

// encode wandelt float64-Werte in native Bytes des dtype von v
func encode(v *value) ([]byte, error) {
	width, err := v.dtype.Size()
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, width*len(v.data))
	for _, f := range v.data {
		switch v.dtype {
		case ml.DTypeFloat32:
			data = binary.NativeEndian.AppendUint32(data, math.Float32bits(float32(f)))
		case ml.DTypeInt32:
			data = binary.NativeEndian.AppendUint32(data, uint32(int32(f)))
		case ml.DTypeInt64:
			data = binary.NativeEndian.AppendUint64(data, uint64(int64(f)))
		case ml.DTypeUInt8:
			data = append(data, uint8(int64(f)))
		}
	}

	return data, nil
}
