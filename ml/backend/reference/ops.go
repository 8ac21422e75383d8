// ops.go - Operationen der Referenz-Engine
// Enthält: value, Op-Tabelle mit Forward- und Backward-Funktionen
//
// Elementweise Operationen erlauben gleiche Shapes oder einen Operanden mit
// genau einem Element, der auf den anderen gebroadcastet wird.

package reference

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorio/bridge/ml"
)

// value ist ein ausgewerteter Tensor. Werte werden intern als float64 gehalten.
type value struct {
	dtype ml.DType
	shape []int
	data  []float64
}

func newValue(dtype ml.DType, shape []int) *value {
	return &value{dtype: dtype, shape: slices.Clone(shape), data: make([]float64, ml.Count(shape))}
}

// at gibt das i-te Element zurueck, ein einzelnes Element wird gebroadcastet
func (v *value) at(i int) float64 {
	if len(v.data) == 1 {
		return v.data[0]
	}
	return v.data[i]
}

// round bringt die Werte auf die Genauigkeit des dtype: float32-Rundung bzw.
// Abschneiden der Nachkommastellen fuer Integer-Typen
func (v *value) round() {
	for i, f := range v.data {
		if v.dtype == ml.DTypeFloat32 {
			v.data[i] = float64(float32(f))
		} else {
			v.data[i] = math.Trunc(f)
		}
	}
}

type forwardFunc func(n *node, in []*value) (*value, error)

// backwardFunc gibt die Gradienten fuer jeden Input zurueck
type backwardFunc func(in []*value, out *value, g []float64) [][]float64

type opDef struct {
	arity    int // -1 = beliebig
	forward  forwardFunc
	backward backwardFunc
}

// ops enthaelt alle bekannten Operationen. placeholder, variable und const
// werden von der Session ausgewertet.
var ops = map[string]opDef{
	"placeholder": {arity: 0},
	"variable":    {arity: 0},
	"const":       {arity: 0},

	"add": {2, elementwise(func(a, b float64) float64 { return a + b }),
		func(in []*value, out *value, g []float64) [][]float64 {
			return [][]float64{reduceTo(g, in[0]), reduceTo(g, in[1])}
		}},
	"sub": {2, elementwise(func(a, b float64) float64 { return a - b }),
		func(in []*value, out *value, g []float64) [][]float64 {
			return [][]float64{reduceTo(g, in[0]), reduceTo(scaled(g, -1), in[1])}
		}},
	"mul": {2, elementwise(func(a, b float64) float64 { return a * b }),
		func(in []*value, out *value, g []float64) [][]float64 {
			ga, gb := make([]float64, len(g)), make([]float64, len(g))
			for i := range g {
				ga[i] = g[i] * in[1].at(i)
				gb[i] = g[i] * in[0].at(i)
			}
			return [][]float64{reduceTo(ga, in[0]), reduceTo(gb, in[1])}
		}},
	"div": {2, div,
		func(in []*value, out *value, g []float64) [][]float64 {
			ga, gb := make([]float64, len(g)), make([]float64, len(g))
			for i := range g {
				b := in[1].at(i)
				ga[i] = g[i] / b
				gb[i] = -g[i] * in[0].at(i) / (b * b)
			}
			return [][]float64{reduceTo(ga, in[0]), reduceTo(gb, in[1])}
		}},

	"neg": {1, unary(func(a float64) float64 { return -a }),
		pointwise(func(a, y float64) float64 { return -1 })},
	"square": {1, unary(func(a float64) float64 { return a * a }),
		pointwise(func(a, y float64) float64 { return 2 * a })},
	"sqrt": {1, unary(math.Sqrt),
		pointwise(func(a, y float64) float64 { return 0.5 / y })},
	"exp": {1, unary(math.Exp),
		pointwise(func(a, y float64) float64 { return y })},
	"relu": {1, unary(func(a float64) float64 { return max(a, 0) }),
		pointwise(func(a, y float64) float64 {
			if a > 0 {
				return 1
			}
			return 0
		})},
	"sigmoid": {1, unary(func(a float64) float64 { return 1 / (1 + math.Exp(-a)) }),
		pointwise(func(a, y float64) float64 { return y * (1 - y) })},
	"tanh": {1, unary(math.Tanh),
		pointwise(func(a, y float64) float64 { return 1 - y*y })},
	"identity": {1, unary(func(a float64) float64 { return a }),
		pointwise(func(a, y float64) float64 { return 1 })},
	"cast": {1, unary(func(a float64) float64 { return a }),
		pointwise(func(a, y float64) float64 { return 1 })},

	"matmul": {2, matmul, matmulGrad},

	"sum": {1, reduce(func(v []float64) float64 { return floats.Sum(v) }),
		func(in []*value, out *value, g []float64) [][]float64 {
			return [][]float64{filled(len(in[0].data), g[0])}
		}},
	"mean": {1, reduce(func(v []float64) float64 { return floats.Sum(v) / float64(len(v)) }),
		func(in []*value, out *value, g []float64) [][]float64 {
			n := len(in[0].data)
			return [][]float64{filled(n, g[0]/float64(n))}
		}},
}

// =============================================================================
// Forward-Hilfsfunktionen
// =============================================================================

func broadcastShape(a, b *value) ([]int, error) {
	switch {
	case slices.Equal(a.shape, b.shape):
		return a.shape, nil
	case len(b.data) == 1 && len(a.shape) >= len(b.shape):
		return a.shape, nil
	case len(a.data) == 1 && len(b.shape) >= len(a.shape):
		return b.shape, nil
	case len(b.data) == 1:
		return a.shape, nil
	case len(a.data) == 1:
		return b.shape, nil
	}

	return nil, fmt.Errorf("incompatible shapes %v and %v", a.shape, b.shape)
}

func elementwise(f func(a, b float64) float64) forwardFunc {
	return func(n *node, in []*value) (*value, error) {
		shape, err := broadcastShape(in[0], in[1])
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", n.Op, n.Name, err)
		}

		out := newValue(n.dtype, shape)
		for i := range out.data {
			out.data[i] = f(in[0].at(i), in[1].at(i))
		}
		out.round()
		return out, nil
	}
}

var errDivideByZero = errors.New("integer divide by zero")

func div(n *node, in []*value) (*value, error) {
	if n.dtype != ml.DTypeFloat32 && slices.Contains(in[1].data, 0) {
		return nil, fmt.Errorf("div %q: %w", n.Name, errDivideByZero)
	}
	return elementwise(func(a, b float64) float64 { return a / b })(n, in)
}

func unary(f func(a float64) float64) forwardFunc {
	return func(n *node, in []*value) (*value, error) {
		out := newValue(n.dtype, in[0].shape)
		for i, a := range in[0].data {
			out.data[i] = f(a)
		}
		out.round()
		return out, nil
	}
}

func reduce(f func(v []float64) float64) forwardFunc {
	return func(n *node, in []*value) (*value, error) {
		out := newValue(n.dtype, []int{})
		out.data[0] = f(in[0].data)
		out.round()
		return out, nil
	}
}

func matmul(n *node, in []*value) (*value, error) {
	a, b := in[0], in[1]
	if len(a.shape) != 2 || len(b.shape) != 2 || a.shape[1] != b.shape[0] {
		return nil, fmt.Errorf("matmul %q: incompatible shapes %v and %v", n.Name, a.shape, b.shape)
	}

	var c mat.Dense
	c.Mul(dense(a), dense(b))

	out := newValue(n.dtype, []int{a.shape[0], b.shape[1]})
	copy(out.data, c.RawMatrix().Data)
	out.round()
	return out, nil
}

func dense(v *value) *mat.Dense {
	return mat.NewDense(v.shape[0], v.shape[1], v.data)
}

// =============================================================================
// Backward-Hilfsfunktionen
// =============================================================================

// pointwise baut den Gradienten einer unaeren Operation aus der Ableitung
// df(a, y) mit Input a und Output y.
func pointwise(df func(a, y float64) float64) backwardFunc {
	return func(in []*value, out *value, g []float64) [][]float64 {
		ga := make([]float64, len(g))
		for i := range g {
			ga[i] = g[i] * df(in[0].data[i], out.data[i])
		}
		return [][]float64{ga}
	}
}

func matmulGrad(in []*value, out *value, g []float64) [][]float64 {
	a, b := dense(in[0]), dense(in[1])
	gm := mat.NewDense(out.shape[0], out.shape[1], g)

	var ga, gb mat.Dense
	ga.Mul(gm, b.T())
	gb.Mul(a.T(), gm)

	return [][]float64{
		slices.Clone(ga.RawMatrix().Data),
		slices.Clone(gb.RawMatrix().Data),
	}
}

// reduceTo summiert g auf, wenn in gebroadcastet wurde
func reduceTo(g []float64, in *value) []float64 {
	if len(g) == len(in.data) {
		return g
	}
	return []float64{floats.Sum(g)}
}

func scaled(g []float64, c float64) []float64 {
	s := slices.Clone(g)
	floats.Scale(c, s)
	return s
}

func filled(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}
