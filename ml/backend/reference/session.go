// session.go - Geladener Graph der Referenz-Engine
// Enthält: Engine.Load, Session (ml.Session), Auswertung, Training, Checkpoints

package reference

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/tensorio/bridge/checkpoint"
	"github.com/tensorio/bridge/logutil"
	"github.com/tensorio/bridge/ml"
)

const (
	// VariablesPrefix ist das Checkpoint-Praefix, aus dem Variablen beim Laden
	// wiederhergestellt werden, relativ zum Modus-Verzeichnis
	VariablesPrefix = "variables/variables"

	// GlobalStep zaehlt die ausgefuehrten Trainingsschritte
	GlobalStep = "global_step"

	momentumSuffix = "/Momentum"
)

// sessionState ist der Arena-Eintrag einer Session
type sessionState struct {
	vars  map[string]*value
	slots map[string]*value
	step  int64
}

func (*sessionState) kind() string { return "session" }

// Session ist ein geladener Graph
type Session struct {
	e    *Engine
	id   uint64
	dir  string
	mode ml.Mode
	g    *graph
}

// Load laedt dir/graph.yaml. Im Serve-Modus werden keine Trainingsziele
// angeboten.
func (e *Engine) Load(dir string, mode ml.Mode) (ml.Session, error) {
	g, err := readGraph(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ml.ErrNativeLoad, dir, err)
	}

	if mode != ml.ModeTrain {
		g.targets = nil
		g.sig.Targets = nil
	}

	st := &sessionState{
		vars:  make(map[string]*value),
		slots: make(map[string]*value),
	}
	for _, n := range g.variables() {
		st.vars[n.Name] = n.initial()
	}

	prefix := filepath.Join(dir, filepath.FromSlash(VariablesPrefix))
	if checkpoint.Exists(prefix) {
		if err := st.restore(g, prefix); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ml.ErrNativeLoad, dir, err)
		}
	}

	s := &Session{e: e, id: e.insert(st), dir: dir, mode: mode, g: g}
	slog.Debug("graph loaded", "session", s)
	return s, nil
}

// LogValue gibt die Session als slog-Wert zurueck
func (s *Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", s.id),
		slog.String("dir", s.dir),
		slog.String("mode", s.mode.String()),
		slog.Int("nodes", len(s.g.nodes)),
		slog.Int("targets", len(s.g.targets)),
	)
}

func (s *Session) Signature() ml.Signature {
	sig := ml.Signature{Targets: slices.Clone(s.g.sig.Targets)}
	for _, ti := range s.g.sig.Inputs {
		sig.Inputs = append(sig.Inputs, ml.TensorInfo{Name: ti.Name, DType: ti.DType, Shape: slices.Clone(ti.Shape)})
	}
	for _, ti := range s.g.sig.Outputs {
		sig.Outputs = append(sig.Outputs, ml.TensorInfo{Name: ti.Name, DType: ti.DType, Shape: slices.Clone(ti.Shape)})
	}
	return sig
}

func (s *Session) Run(ctx context.Context, feeds []ml.Feed, fetches []string, targets []string) ([]ml.Buffer, error) {
	st, err := lookup[*sessionState](s.e, s.id)
	if err != nil {
		return nil, err
	}

	// alle Namen pruefen, bevor sich der Zustand aendert
	fed := make(map[string]*value, len(feeds))
	for _, f := range feeds {
		info, ok := s.g.sig.Input(f.Name)
		if !ok {
			return nil, &ml.UnknownTensorNameError{Name: f.Name, Kind: "input"}
		}

		b, ok := f.Buffer.(*Buffer)
		if !ok {
			return nil, fmt.Errorf("%w: input %q is a %T", ml.ErrEngineMismatch, f.Name, f.Buffer)
		}
		if b.e != s.e {
			return nil, fmt.Errorf("%w: input %q comes from another reference engine", ml.ErrEngineMismatch, f.Name)
		}
		if !info.Matches(b.dtype, b.shape) {
			return nil, &ml.ShapeMismatchError{Name: f.Name, Want: info, Got: ml.TensorInfo{Name: f.Name, DType: b.dtype, Shape: b.Shape()}}
		}

		v, err := b.values()
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", f.Name, err)
		}
		fed[f.Name] = v
	}

	for _, name := range fetches {
		if _, ok := s.g.sig.Output(name); !ok {
			return nil, &ml.UnknownTensorNameError{Name: name, Kind: "output"}
		}
	}

	for _, name := range targets {
		if _, ok := s.g.targets[name]; !ok {
			return nil, &ml.UnknownTensorNameError{Name: name, Kind: "target"}
		}
	}

	for _, name := range targets {
		if err := s.minimize(ctx, st, fed, s.g.targets[name]); err != nil {
			return nil, err
		}
	}

	ev := s.evaluator(st, fed)
	results := make([]ml.Buffer, 0, len(fetches))
	for _, name := range fetches {
		v, err := ev.eval(name)
		if err != nil {
			freeAll(results)
			return nil, err
		}

		data, err := encode(v)
		if err != nil {
			freeAll(results)
			return nil, err
		}

		results = append(results, s.e.alloc(v.dtype, v.shape, data))
	}

	return results, nil
}

func freeAll(bs []ml.Buffer) {
	for _, b := range bs {
		if err := b.Free(); err != nil {
			slog.Warn("failed to free result buffer", "error", err)
		}
	}
}

// Save schreibt alle Variablen, Momentum-Slots und den Schrittzaehler
func (s *Session) Save(prefix string) error {
	st, err := lookup[*sessionState](s.e, s.id)
	if err != nil {
		return err
	}

	vars := make([]checkpoint.Variable, 0, len(st.vars)+len(st.slots)+1)
	add := func(name string, v *value) error {
		data, err := encode(v)
		if err != nil {
			return err
		}
		vars = append(vars, checkpoint.Variable{Name: name, DType: v.dtype, Shape: slices.Clone(v.shape), Data: data})
		return nil
	}

	for name, v := range st.vars {
		if err := add(name, v); err != nil {
			return err
		}
	}
	for name, v := range st.slots {
		if err := add(name+momentumSuffix, v); err != nil {
			return err
		}
	}
	if _, ok := st.vars[GlobalStep]; !ok {
		step := &value{dtype: ml.DTypeInt64, shape: []int{}, data: []float64{float64(st.step)}}
		if err := add(GlobalStep, step); err != nil {
			return err
		}
	}

	return checkpoint.Write(prefix, vars)
}

func (s *Session) Close() error {
	return s.e.remove(s.id)
}

// restore uebernimmt Variablen aus dem Checkpoint bei prefix
func (st *sessionState) restore(g *graph, prefix string) error {
	saved, err := checkpoint.Read(prefix)
	if err != nil {
		return err
	}

	for _, sv := range saved {
		v, err := decode(sv.DType, sv.Shape, sv.Data)
		if err != nil {
			return fmt.Errorf("variable %q: %w", sv.Name, err)
		}

		name, isSlot := strings.CutSuffix(sv.Name, momentumSuffix)
		n, ok := g.nodes[name]
		switch {
		case ok && n.Op == "variable":
			if n.dtype != v.dtype || !slices.Equal(n.Shape, v.shape) {
				return fmt.Errorf("variable %q is %s%v in graph but %s%v in checkpoint", name, n.dtype, n.Shape, v.dtype, v.shape)
			}
			if isSlot {
				st.slots[name] = v
			} else {
				st.vars[name] = v
			}
		case sv.Name == GlobalStep && len(v.data) == 1:
			st.step = int64(v.data[0])
		default:
			slog.Debug("ignoring checkpoint variable", "name", sv.Name, "prefix", prefix)
		}
	}

	return nil
}

// initial gibt den Startwert einer Variable oder Konstante zurueck
func (n *node) initial() *value {
	v := newValue(n.dtype, n.Shape)
	switch len(n.Value) {
	case 0:
	case 1:
		for i := range v.data {
			v.data[i] = n.Value[0]
		}
	default:
		copy(v.data, n.Value)
	}
	v.round()
	return v
}

// =============================================================================
// Auswertung
// =============================================================================

type evaluator struct {
	g    *graph
	st   *sessionState
	fed  map[string]*value
	memo map[string]*value
}

func (s *Session) evaluator(st *sessionState, fed map[string]*value) *evaluator {
	return &evaluator{g: s.g, st: st, fed: fed, memo: make(map[string]*value)}
}

func (ev *evaluator) eval(name string) (*value, error) {
	if v, ok := ev.memo[name]; ok {
		return v, nil
	}

	n := ev.g.nodes[name]
	var v *value
	switch n.Op {
	case "placeholder":
		var ok bool
		if v, ok = ev.fed[name]; !ok {
			return nil, fmt.Errorf("placeholder %q was not fed", name)
		}
	case "variable":
		v = ev.st.vars[name]
	case "const":
		v = n.initial()
	default:
		in := make([]*value, len(n.Inputs))
		for i, x := range n.Inputs {
			var err error
			if in[i], err = ev.eval(x); err != nil {
				return nil, err
			}
		}

		var err error
		if v, err = ops[n.Op].forward(n, in); err != nil {
			return nil, err
		}
	}

	ev.memo[name] = v
	return v, nil
}

// =============================================================================
// Training
// =============================================================================

// minimize fuehrt einen Optimierungsschritt fuer t aus
func (s *Session) minimize(ctx context.Context, st *sessionState, fed map[string]*value, t targetSpec) error {
	ev := s.evaluator(st, fed)
	loss, err := ev.eval(t.Loss)
	if err != nil {
		return err
	}

	reach := s.g.reachable(t.Loss)
	grads := map[string][]float64{t.Loss: filled(len(loss.data), 1)}
	for i := len(s.g.order) - 1; i >= 0; i-- {
		name := s.g.order[i]
		g, ok := grads[name]
		if !ok || !reach[name] {
			continue
		}

		n := s.g.nodes[name]
		op := ops[n.Op]
		if op.backward == nil || n.dtype != ml.DTypeFloat32 {
			continue
		}

		in := make([]*value, len(n.Inputs))
		for j, x := range n.Inputs {
			in[j] = ev.memo[x]
		}

		for j, gx := range op.backward(in, ev.memo[name], g) {
			x := n.Inputs[j]
			if s.g.nodes[x].dtype != ml.DTypeFloat32 {
				continue
			}
			if acc, ok := grads[x]; ok {
				floats.Add(acc, gx)
			} else {
				grads[x] = slices.Clone(gx)
			}
		}
	}

	for _, n := range s.g.variables() {
		g, ok := grads[n.Name]
		if !ok || !n.trainable() {
			continue
		}

		v := st.vars[n.Name]
		switch t.Optimizer {
		case "momentum":
			slot, ok := st.slots[n.Name]
			if !ok {
				slot = newValue(v.dtype, v.shape)
				st.slots[n.Name] = slot
			}
			floats.Scale(t.Momentum, slot.data)
			floats.Add(slot.data, g)
			floats.AddScaled(v.data, -t.LearningRate, slot.data)
		default:
			floats.AddScaled(v.data, -t.LearningRate, g)
		}
		v.round()
	}

	st.step++
	logutil.TraceContext(ctx, "training step", "target", t.Name, "step", st.step, "loss", floats.Sum(loss.data))
	return nil
}
