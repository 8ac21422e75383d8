// tensor_typed.go - Typisierte Zugriffe auf Tensor-Bytes
// Enthält: Set/Get fuer float32, int32, int64, uint8 in nativer Byte-Reihenfolge

package savedmodel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tensorio/bridge/ml"
)

func (t *Tensor) expect(dtype ml.DType) error {
	if t.dtype != dtype {
		return fmt.Errorf("%w: tensor %q is %s, not %s", ml.ErrUnsupportedDType, t.name, t.dtype, dtype)
	}
	return nil
}

func setTyped[T any](t *Tensor, dtype ml.DType, vs []T, put func([]byte, T) []byte) error {
	if err := t.expect(dtype); err != nil {
		return err
	}

	width, _ := dtype.Size()
	b := make([]byte, 0, width*len(vs))
	for _, v := range vs {
		b = put(b, v)
	}
	return t.SetBytes(b)
}

func getTyped[T any](t *Tensor, dtype ml.DType, get func([]byte) T) ([]T, error) {
	if err := t.expect(dtype); err != nil {
		return nil, err
	}

	b, err := t.Bytes()
	if err != nil {
		return nil, err
	}

	width, _ := dtype.Size()
	vs := make([]T, len(b)/width)
	for i := range vs {
		vs[i] = get(b[i*width:])
	}
	return vs, nil
}

func (t *Tensor) SetFloat32s(vs []float32) error {
	return setTyped(t, ml.DTypeFloat32, vs, func(b []byte, v float32) []byte {
		return binary.NativeEndian.AppendUint32(b, math.Float32bits(v))
	})
}

func (t *Tensor) Float32s() ([]float32, error) {
	return getTyped(t, ml.DTypeFloat32, func(b []byte) float32 {
		return math.Float32frombits(binary.NativeEndian.Uint32(b))
	})
}

func (t *Tensor) SetInt32s(vs []int32) error {
	return setTyped(t, ml.DTypeInt32, vs, func(b []byte, v int32) []byte {
		return binary.NativeEndian.AppendUint32(b, uint32(v))
	})
}

func (t *Tensor) Int32s() ([]int32, error) {
	return getTyped(t, ml.DTypeInt32, func(b []byte) int32 {
		return int32(binary.NativeEndian.Uint32(b))
	})
}

func (t *Tensor) SetInt64s(vs []int64) error {
	return setTyped(t, ml.DTypeInt64, vs, func(b []byte, v int64) []byte {
		return binary.NativeEndian.AppendUint64(b, uint64(v))
	})
}

func (t *Tensor) Int64s() ([]int64, error) {
	return getTyped(t, ml.DTypeInt64, func(b []byte) int64 {
		return int64(binary.NativeEndian.Uint64(b))
	})
}

func (t *Tensor) SetUint8s(vs []uint8) error {
	return setTyped(t, ml.DTypeUInt8, vs, func(b []byte, v uint8) []byte {
		return append(b, v)
	})
}

func (t *Tensor) Uint8s() ([]uint8, error) {
	if err := t.expect(ml.DTypeUInt8); err != nil {
		return nil, err
	}
	return t.Bytes()
}
