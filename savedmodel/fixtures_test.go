package savedmodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorio/bridge/ml"
	"github.com/tensorio/bridge/ml/backend/reference"
)

// y = x^2 + x
const squarePlusX = `
inputs:
  - {name: x, dtype: float32, shape: [1]}
outputs:
  - {name: y, dtype: float32, shape: [1]}
nodes:
  - {name: x, op: placeholder}
  - {name: sq, op: square, inputs: [x]}
  - {name: y, op: add, inputs: [sq, x]}
`

// y = 2x fuer beliebig lange Vektoren, plus Identitaeten fuer jeden dtype
const doubler = `
inputs:
  - {name: x, dtype: float32, shape: [-1, -1]}
  - {name: v, dtype: float32, shape: [-1]}
  - {name: i32, dtype: int32, shape: [-1]}
  - {name: i64, dtype: int64, shape: [-1]}
  - {name: u8, dtype: uint8, shape: [-1]}
outputs:
  - {name: y, dtype: float32, shape: [-1, -1]}
  - {name: w, dtype: float32, shape: [-1]}
  - {name: i32_out, dtype: int32, shape: [-1]}
  - {name: i64_out, dtype: int64, shape: [-1]}
  - {name: u8_out, dtype: uint8, shape: [-1]}
nodes:
  - {name: x, op: placeholder}
  - {name: v, op: placeholder}
  - {name: i32, op: placeholder}
  - {name: i64, op: placeholder}
  - {name: u8, op: placeholder}
  - {name: two, op: const, shape: [], value: [2]}
  - {name: y, op: mul, inputs: [x, two]}
  - {name: w, op: identity, inputs: [v]}
  - {name: i32_out, op: identity, inputs: [i32]}
  - {name: i64_out, op: identity, inputs: [i64]}
  - {name: u8_out, op: identity, inputs: [u8]}
`

// lineare Regression y = w*x + b mit MSE-Verlust
const regression = `
inputs:
  - {name: x, dtype: float32, shape: [-1, 1]}
  - {name: y, dtype: float32, shape: [-1, 1]}
outputs:
  - {name: loss, dtype: float32, shape: []}
  - {name: pred, dtype: float32, shape: [-1, 1]}
nodes:
  - {name: x, op: placeholder}
  - {name: y, op: placeholder}
  - {name: w, op: variable, shape: [1, 1], value: [0.5]}
  - {name: b, op: variable, shape: [1]}
  - {name: xw, op: matmul, inputs: [x, w]}
  - {name: pred, op: add, inputs: [xw, b]}
  - {name: diff, op: sub, inputs: [pred, y]}
  - {name: sq, op: square, inputs: [diff]}
  - {name: loss, op: mean, inputs: [sq]}
targets:
  - {name: train, op: minimize, loss: loss, learning_rate: 0.05}
`

// writeBundle legt ein Bundle mit einem Graphen pro Modus-Verzeichnis an
func writeBundle(t *testing.T, graphs map[ml.Mode]string) string {
	t.Helper()

	dir := t.TempDir()
	for mode, src := range graphs {
		sub := filepath.Join(dir, mode.Subdir())
		require.NoError(t, os.MkdirAll(sub, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(sub, reference.GraphFile), []byte(src), 0o644))
	}
	return dir
}

// newEngine gibt eine eigene Referenz-Engine zurueck und prueft am Testende,
// dass keine Ressourcen mehr leben
func newEngine(t *testing.T) *reference.Engine {
	t.Helper()

	e := reference.New()
	t.Cleanup(func() {
		if n := e.Live(); n != 0 {
			t.Errorf("erwartet 0 lebende Ressourcen, bekommen %d", n)
		}
	})
	return e
}

func mustTensor(t *testing.T, e ml.Engine, dtype ml.DType, shape []int, name string) *Tensor {
	t.Helper()

	tt, err := NewTensor(dtype, shape, name, WithEngine(e))
	require.NoError(t, err)
	t.Cleanup(func() { tt.Close() })
	return tt
}
