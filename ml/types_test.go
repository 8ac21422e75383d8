package ml

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDType(t *testing.T) {
	cases := []struct {
		dtype DType
		code  int32
		size  int
		name  string
	}{
		{DTypeFloat32, 1, 4, "float32"},
		{DTypeInt32, 3, 4, "int32"},
		{DTypeUInt8, 4, 1, "uint8"},
		{DTypeInt64, 9, 8, "int64"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.code, tt.dtype.Code())
			require.Equal(t, tt.name, tt.dtype.String())

			size, err := tt.dtype.Size()
			require.NoError(t, err)
			require.Equal(t, tt.size, size)

			d, err := DTypeFromCode(tt.code)
			require.NoError(t, err)
			require.Equal(t, tt.dtype, d)

			d, err = ParseDType(tt.name)
			require.NoError(t, err)
			require.Equal(t, tt.dtype, d)
		})
	}

	_, err := DTypeString.Size()
	require.ErrorIs(t, err, ErrUnsupportedDType)
	require.Equal(t, int32(7), DTypeString.Code())

	_, err = DTypeFromCode(2)
	require.ErrorIs(t, err, ErrUnsupportedDType)
	_, err = ParseDType("float64")
	require.ErrorIs(t, err, ErrUnsupportedDType)
	_, err = DType(42).Size()
	require.ErrorIs(t, err, ErrUnsupportedDType)

	for alias, want := range map[string]DType{"float": DTypeFloat32, " I64 ": DTypeInt64, "byte": DTypeUInt8, "int": DTypeInt32} {
		d, err := ParseDType(alias)
		require.NoError(t, err, alias)
		require.Equal(t, want, d, alias)
	}
}

func TestDTypeJSON(t *testing.T) {
	b, err := json.Marshal(TensorInfo{Name: "x", DType: DTypeInt64, Shape: []int{-1, 2}})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"x","dtype":"int64","shape":[-1,2]}`, string(b))

	var ti TensorInfo
	require.NoError(t, json.Unmarshal(b, &ti))
	require.Equal(t, DTypeInt64, ti.DType)

	require.Error(t, json.Unmarshal([]byte(`{"dtype":"complex64"}`), &ti))
	_, err = json.Marshal(DType(42))
	require.Error(t, err)
}

func TestMode(t *testing.T) {
	for _, tt := range []struct {
		s      string
		mode   Mode
		subdir string
	}{
		{"serve", ModeServe, "predict"},
		{"TRAIN", ModeTrain, "train"},
		{"", ModeServe, "predict"},
	} {
		m, err := ParseMode(tt.s)
		require.NoError(t, err)
		require.Equal(t, tt.mode, m)
		require.Equal(t, tt.subdir, m.Subdir())
	}

	_, err := ParseMode("predict")
	require.ErrorIs(t, err, ErrInvalidMode)

	var v struct{ Mode Mode }
	require.NoError(t, json.Unmarshal([]byte(`{"Mode":"train"}`), &v))
	require.Equal(t, ModeTrain, v.Mode)
	require.Equal(t, "train", v.Mode.String())
}

func TestShape(t *testing.T) {
	require.Equal(t, 1, Count(nil))
	require.Equal(t, 1, Count([]int{}))
	require.Equal(t, 24, Count([]int{2, 3, 4}))

	require.NoError(t, ValidateShape([]int{}))
	require.NoError(t, ValidateShape([]int{1, 4}))
	require.ErrorIs(t, ValidateShape([]int{1, 0}), ErrInvalidShape)
	require.ErrorIs(t, ValidateShape([]int{-1}), ErrInvalidShape)

	// Count mal Elementbreite darf nicht ueberlaufen
	require.NoError(t, ValidateShape([]int{math.MaxInt / 8}))
	require.ErrorIs(t, ValidateShape([]int{math.MaxInt/8 + 1}), ErrInvalidShape)
	require.ErrorIs(t, ValidateShape([]int{math.MaxInt / 16, 4}), ErrInvalidShape)
	require.ErrorIs(t, ValidateShape([]int{1 << 20, 1 << 20, 1 << 20, 1 << 20}), ErrInvalidShape)
}

func TestTensorInfoMatches(t *testing.T) {
	ti := TensorInfo{Name: "x", DType: DTypeFloat32, Shape: []int{-1, 4}}

	require.True(t, ti.Matches(DTypeFloat32, []int{1, 4}))
	require.True(t, ti.Matches(DTypeFloat32, []int{7, 4}))
	require.False(t, ti.Matches(DTypeFloat32, []int{1, 3}))
	require.False(t, ti.Matches(DTypeInt32, []int{1, 4}))
	require.False(t, ti.Matches(DTypeFloat32, []int{4}))

	scalar := TensorInfo{Name: "loss", DType: DTypeFloat32, Shape: []int{}}
	require.True(t, scalar.Matches(DTypeFloat32, nil))
}

func TestErrors(t *testing.T) {
	err := error(&BundleLoadError{Path: "/x", Err: ErrNotDirectory})
	require.ErrorIs(t, err, ErrBundleLoad)
	require.ErrorIs(t, err, ErrNotDirectory)

	require.ErrorIs(t, &SizeMismatchError{Name: "x", Want: 4, Got: 3}, ErrSizeMismatch)
	require.ErrorIs(t, &ShapeMismatchError{Name: "x"}, ErrShapeMismatch)
	require.ErrorIs(t, &UnknownTensorNameError{Name: "x", Kind: "input"}, ErrUnknownTensorName)
	require.EqualError(t, &UnknownTensorNameError{Name: "x", Kind: "input"}, `unknown tensor name: no input named "x"`)
}

func TestEngineRegistry(t *testing.T) {
	RegisterEngine("test-registry", func() (Engine, error) { return nil, nil })
	require.Contains(t, Engines(), "test-registry")
	require.Panics(t, func() {
		RegisterEngine("test-registry", func() (Engine, error) { return nil, nil })
	})

	_, err := NewEngine("does-not-exist")
	require.ErrorContains(t, err, "unsupported engine")
}
