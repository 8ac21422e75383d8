package savedmodel

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/tensorio/bridge/ml"
)

func load(t *testing.T, dir string, mode ml.Mode, e ml.Engine) *Bundle {
	t.Helper()

	b, err := Load(dir, mode, WithEngine(e))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestScenarioSquarePlusX(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX}), ml.ModeServe, e)

	x := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "x")
	require.NoError(t, x.SetFloat32s([]float32{2}))
	y := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "y")

	require.NoError(t, b.Run([]*Tensor{x}, []*Tensor{y}))
	require.Equal(t, ml.Bound, y.State())

	got, err := y.Float32s()
	require.NoError(t, err)
	require.Equal(t, []float32{6}, got)
}

func TestScenarioDoubler(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: doubler}), ml.ModeServe, e)

	x := mustTensor(t, e, ml.DTypeFloat32, []int{1, 4}, "x")
	require.NoError(t, x.SetFloat32s([]float32{1, 2, 3, 4}))
	y := mustTensor(t, e, ml.DTypeFloat32, []int{1, 4}, "y")

	require.NoError(t, b.Run([]*Tensor{x}, []*Tensor{y}))

	got, err := y.Float32s()
	require.NoError(t, err)
	require.Equal(t, []float32{2, 4, 6, 8}, got)
}

func TestScenarioTrainExport(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeTrain: regression}), ml.ModeTrain, e)
	require.Equal(t, []string{"train"}, b.Targets())

	x := mustTensor(t, e, ml.DTypeFloat32, []int{4, 1}, "x")
	require.NoError(t, x.SetFloat32s([]float32{1, 2, 3, 4}))
	y := mustTensor(t, e, ml.DTypeFloat32, []int{4, 1}, "y")
	require.NoError(t, y.SetFloat32s([]float32{3, 5, 7, 9}))
	loss := mustTensor(t, e, ml.DTypeFloat32, []int{}, "loss")

	seen := map[float32]bool{}
	var losses []float32
	for range 4 {
		require.NoError(t, b.Train([]*Tensor{x, y}, []*Tensor{loss}, []string{"train"}))
		v, err := loss.Float32s()
		require.NoError(t, err)
		losses = append(losses, v[0])
		seen[v[0]] = true
	}
	require.Len(t, seen, 4, "losses %v", losses)
	require.Equal(t, 4, b.Steps())

	// das Output-Tensor wurde wiederverwendet, nicht vervielfacht
	require.Equal(t, 4, e.Live()) // Session, x, y, loss

	out := t.TempDir()
	require.NoError(t, b.Export(out))
	for _, name := range []string{CheckpointIndex, CheckpointData} {
		fi, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err)
		if fi.Size() == 0 {
			t.Errorf("%s: nicht-leere Datei erwartet", name)
		}
	}
}

func TestTrainEvaluatesAfterUpdate(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeTrain: regression}), ml.ModeTrain, e)

	x := mustTensor(t, e, ml.DTypeFloat32, []int{4, 1}, "x")
	require.NoError(t, x.SetFloat32s([]float32{1, 2, 3, 4}))
	y := mustTensor(t, e, ml.DTypeFloat32, []int{4, 1}, "y")
	require.NoError(t, y.SetFloat32s([]float32{3, 5, 7, 9}))

	before := mustTensor(t, e, ml.DTypeFloat32, []int{}, "loss")
	require.NoError(t, b.Run([]*Tensor{x, y}, []*Tensor{before}))

	after := mustTensor(t, e, ml.DTypeFloat32, []int{}, "loss")
	require.NoError(t, b.Train([]*Tensor{x, y}, []*Tensor{after}, []string{"train"}))

	bv, err := before.Float32s()
	require.NoError(t, err)
	av, err := after.Float32s()
	require.NoError(t, err)
	require.Less(t, av[0], bv[0])

	require.Equal(t, 1, b.Steps())

	// ohne ops wird nur ausgewertet und kein Schritt gezaehlt
	again := mustTensor(t, e, ml.DTypeFloat32, []int{}, "loss")
	require.NoError(t, b.Train([]*Tensor{x, y}, []*Tensor{again}, nil))
	gv, err := again.Float32s()
	require.NoError(t, err)
	require.Equal(t, av, gv)
	require.Equal(t, 1, b.Steps())
}

func TestUnknownNames(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeTrain: regression}), ml.ModeTrain, e)

	x := mustTensor(t, e, ml.DTypeFloat32, []int{4, 1}, "x")
	require.NoError(t, x.SetFloat32s([]float32{1, 2, 3, 4}))
	y := mustTensor(t, e, ml.DTypeFloat32, []int{4, 1}, "y")
	require.NoError(t, y.SetFloat32s([]float32{3, 5, 7, 9}))
	loss := mustTensor(t, e, ml.DTypeFloat32, []int{}, "loss")

	bogus := mustTensor(t, e, ml.DTypeFloat32, []int{4, 1}, "bogus")
	require.NoError(t, bogus.SetFloat32s([]float32{1, 2, 3, 4}))

	var une *ml.UnknownTensorNameError

	err := b.Run([]*Tensor{bogus, y}, []*Tensor{loss})
	require.ErrorAs(t, err, &une)
	require.Equal(t, "bogus", une.Name)
	require.Equal(t, "input", une.Kind)

	err = b.Run([]*Tensor{x, y}, []*Tensor{bogus})
	require.ErrorAs(t, err, &une)
	require.Equal(t, "output", une.Kind)

	err = b.Train([]*Tensor{x, y}, []*Tensor{loss}, []string{"fly"})
	require.ErrorAs(t, err, &une)
	require.Equal(t, "target", une.Kind)
	require.Equal(t, 0, b.Steps())

	// fehlgeschlagene Aufrufe lassen das Bundle benutzbar
	require.NoError(t, b.Run([]*Tensor{x, y}, []*Tensor{loss}))
}

func TestRunContractViolations(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX}), ml.ModeServe, e)
	y := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "y")

	t.Run("unbound input", func(t *testing.T) {
		x := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "x")
		require.ErrorIs(t, b.Run([]*Tensor{x}, []*Tensor{y}), ml.ErrResourceNotBound)
	})

	t.Run("input shape", func(t *testing.T) {
		x := mustTensor(t, e, ml.DTypeFloat32, []int{2}, "x")
		require.NoError(t, x.SetFloat32s([]float32{1, 2}))

		var sme *ml.ShapeMismatchError
		require.ErrorAs(t, b.Run([]*Tensor{x}, []*Tensor{y}), &sme)
		require.Equal(t, []int{1}, sme.Want.Shape)
		require.Equal(t, []int{2}, sme.Got.Shape)
	})

	t.Run("input dtype", func(t *testing.T) {
		x := mustTensor(t, e, ml.DTypeInt32, []int{1}, "x")
		require.NoError(t, x.SetInt32s([]int32{2}))
		require.ErrorIs(t, b.Run([]*Tensor{x}, []*Tensor{y}), ml.ErrShapeMismatch)
	})

	t.Run("closed output", func(t *testing.T) {
		x := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "x")
		require.NoError(t, x.SetFloat32s([]float32{2}))

		closed := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "y")
		require.NoError(t, closed.Close())
		require.ErrorIs(t, b.Run([]*Tensor{x}, []*Tensor{closed}), ml.ErrResourceNotBound)
		require.Equal(t, ml.Released, closed.State())
	})

	t.Run("foreign engine", func(t *testing.T) {
		x := mustTensor(t, newEngine(t), ml.DTypeFloat32, []int{1}, "x")
		require.NoError(t, x.SetFloat32s([]float32{2}))

		err := b.Run([]*Tensor{x}, []*Tensor{y})
		require.ErrorIs(t, err, ml.ErrEngineMismatch)
		require.NotErrorIs(t, err, ml.ErrResourceNotBound)
	})

	require.Equal(t, ml.Unbound, y.State())
}

func TestOutputMismatchRejected(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: doubler}), ml.ModeServe, e)

	v := mustTensor(t, e, ml.DTypeFloat32, []int{3}, "v")
	require.NoError(t, v.SetFloat32s([]float32{1, 2, 3}))

	// die Signatur erlaubt [-1], die Engine liefert aber [3]
	w := mustTensor(t, e, ml.DTypeFloat32, []int{4}, "w")
	live := e.Live()

	var sme *ml.ShapeMismatchError
	require.ErrorAs(t, b.Run([]*Tensor{v}, []*Tensor{w}), &sme)
	require.Equal(t, []int{3}, sme.Want.Shape)
	require.Equal(t, []int{4}, sme.Got.Shape)

	require.Equal(t, ml.Unbound, w.State())
	require.Equal(t, live, e.Live())
}

func TestOutputReuse(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX}), ml.ModeServe, e)

	x := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "x")
	y := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "y")

	for i, want := range []float32{2, 6, 12} {
		require.NoError(t, x.SetFloat32s([]float32{float32(i + 1)}))
		require.NoError(t, b.Run([]*Tensor{x}, []*Tensor{y}))

		got, err := y.Float32s()
		require.NoError(t, err)
		require.Equal(t, []float32{want}, got)
		require.Equal(t, 3, e.Live()) // Session, x, y
	}
}

func TestRoundTripThroughEngine(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: doubler}), ml.ModeServe, e)

	cases := []struct {
		in, out string
		dtype   ml.DType
		data    []byte
	}{
		{"v", "w", ml.DTypeFloat32, []byte{0, 0, 128, 63, 0, 0, 0, 192}},
		{"i32", "i32_out", ml.DTypeInt32, []byte{1, 2, 3, 4, 255, 255, 255, 127}},
		{"i64", "i64_out", ml.DTypeInt64, []byte{1, 0, 0, 0, 0, 0, 0, 0}},
		{"u8", "u8_out", ml.DTypeUInt8, []byte{0, 7, 255}},
	}

	for _, tt := range cases {
		t.Run(tt.dtype.String(), func(t *testing.T) {
			width, err := tt.dtype.Size()
			require.NoError(t, err)
			shape := []int{len(tt.data) / width}

			in, err := NewTensorFrom(tt.dtype, shape, tt.in, tt.data, WithEngine(e))
			require.NoError(t, err)
			defer in.Close()

			out := mustTensor(t, e, tt.dtype, shape, tt.out)
			require.NoError(t, b.Run([]*Tensor{in}, []*Tensor{out}))

			got, err := out.Bytes()
			require.NoError(t, err)
			if diff := cmp.Diff(tt.data, got); diff != "" {
				t.Errorf("bytes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnload(t *testing.T) {
	e := newEngine(t)
	dir := writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX})

	b, err := Load(dir, ml.ModeServe, WithEngine(e))
	require.NoError(t, err)
	require.Equal(t, 1, e.Live())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.Equal(t, ml.Released, b.State())
	require.Equal(t, 0, e.Live())

	x := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "x")
	require.NoError(t, x.SetFloat32s([]float32{2}))
	y := mustTensor(t, e, ml.DTypeFloat32, []int{1}, "y")

	require.ErrorIs(t, b.Run([]*Tensor{x}, []*Tensor{y}), ml.ErrResourceNotBound)
	require.Equal(t, ml.Unbound, y.State())
}

func TestUnloadTrain(t *testing.T) {
	e := newEngine(t)
	b, err := Load(writeBundle(t, map[ml.Mode]string{ml.ModeTrain: regression}), ml.ModeTrain, WithEngine(e))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	require.ErrorIs(t, b.Train(nil, nil, []string{"train"}), ml.ErrResourceNotBound)
	require.ErrorIs(t, b.Export(t.TempDir()), ml.ErrResourceNotBound)
}

func TestUnloadServe(t *testing.T) {
	e := newEngine(t)
	b, err := Load(writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX}), ml.ModeServe, WithEngine(e))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	// nach dem Entladen gewinnt ResourceNotBound vor dem Modus
	for name, err := range map[string]error{
		"run":    b.Run(nil, nil),
		"train":  b.Train(nil, nil, nil),
		"export": b.Export(t.TempDir()),
	} {
		require.ErrorIs(t, err, ml.ErrResourceNotBound, name)
		require.NotErrorIs(t, err, ml.ErrInvalidMode, name)
	}
}

func TestUnreachableResourcesAreFreed(t *testing.T) {
	e := newEngine(t)
	dir := writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX})

	// weder Bundle noch Tensor werden geschlossen
	func() {
		b, err := Load(dir, ml.ModeServe, WithEngine(e))
		require.NoError(t, err)

		x, err := b.NewTensor(ml.DTypeFloat32, []int{1}, "x")
		require.NoError(t, err)
		require.NoError(t, x.SetFloat32s([]float32{2}))
		require.Equal(t, 2, e.Live())
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return e.Live() == 0
	}, 5*time.Second, 10*time.Millisecond, "Engine haelt noch Ressourcen")
}

func TestInvalidMode(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX}), ml.ModeServe, e)

	require.ErrorIs(t, b.Train(nil, nil, []string{"train"}), ml.ErrInvalidMode)
	require.ErrorIs(t, b.Export(t.TempDir()), ml.ErrInvalidMode)
	require.Empty(t, b.Targets())

	_, err := Load(t.TempDir(), ml.Mode(7), WithEngine(e))
	require.ErrorIs(t, err, ml.ErrInvalidMode)
}

func TestExportMissingDir(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeTrain: regression}), ml.ModeTrain, e)

	err := b.Export(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.NotErrorIs(t, err, ml.ErrBundleLoad)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	require.ErrorIs(t, b.Export(file), ml.ErrNotDirectory)
}

func TestLoadErrors(t *testing.T) {
	e := newEngine(t)

	t.Run("missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"), ml.ModeServe, WithEngine(e))
		require.ErrorIs(t, err, ml.ErrBundleLoad)
		require.ErrorIs(t, err, fs.ErrNotExist)

		var ble *ml.BundleLoadError
		require.ErrorAs(t, err, &ble)
	})

	t.Run("file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "bundle")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		_, err := Load(file, ml.ModeServe, WithEngine(e))
		require.ErrorIs(t, err, ml.ErrBundleLoad)
		require.ErrorIs(t, err, ml.ErrNotDirectory)
	})

	t.Run("missing mode directory", func(t *testing.T) {
		dir := writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX})
		_, err := Load(dir, ml.ModeTrain, WithEngine(e))
		require.ErrorIs(t, err, ml.ErrBundleLoad)
	})

	t.Run("rejected graph", func(t *testing.T) {
		dir := writeBundle(t, map[ml.Mode]string{ml.ModeServe: "nodes:\n  - {name: a, op: warp}\n"})
		_, err := Load(dir, ml.ModeServe, WithEngine(e))
		require.ErrorIs(t, err, ml.ErrNativeLoad)
		require.False(t, errors.Is(err, ml.ErrBundleLoad))
	})

	require.Equal(t, 0, e.Live())
}

func TestLoadModeDirectory(t *testing.T) {
	e := newEngine(t)
	dir := writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX})

	b := load(t, filepath.Join(dir, "predict"), ml.ModeServe, e)
	want := []ml.TensorInfo{{Name: "x", DType: ml.DTypeFloat32, Shape: []int{1}}}
	if diff := cmp.Diff(want, b.Inputs()); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, filepath.Join(dir, "predict"), b.Dir())
	require.Equal(t, ml.ModeServe, b.Mode())
}

func TestWithBundle(t *testing.T) {
	e := newEngine(t)
	dir := writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX})

	var seen *Bundle
	err := WithBundle(dir, ml.ModeServe, func(b *Bundle) error {
		seen = b
		require.Equal(t, 1, e.Live())
		return errors.New("boom")
	}, WithEngine(e))
	require.EqualError(t, err, "boom")
	require.Equal(t, ml.Released, seen.State())

	require.Panics(t, func() {
		WithBundle(dir, ml.ModeServe, func(b *Bundle) error {
			seen = b
			panic("boom")
		}, WithEngine(e))
	})
	require.Equal(t, ml.Released, seen.State())
	require.Equal(t, 0, e.Live())
}

func TestBundleNewTensor(t *testing.T) {
	e := newEngine(t)
	b := load(t, writeBundle(t, map[ml.Mode]string{ml.ModeServe: squarePlusX}), ml.ModeServe, e)

	x, err := b.NewTensor(ml.DTypeFloat32, []int{1}, "x")
	require.NoError(t, err)
	defer x.Close()
	require.NoError(t, x.SetFloat32s([]float32{3}))

	y, err := b.NewTensor(ml.DTypeFloat32, []int{1}, "y")
	require.NoError(t, err)
	defer y.Close()

	require.NoError(t, b.Run([]*Tensor{x}, []*Tensor{y}))
	got, err := y.Float32s()
	require.NoError(t, err)
	require.Equal(t, []float32{12}, got)
}
