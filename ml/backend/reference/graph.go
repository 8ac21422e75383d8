// graph.go - Graph-Definition der Referenz-Engine (graph.yaml)
// Enthält: graphFile (YAML-Schema), graph (validiert, topologisch sortiert)
//
// Beispiel:
//
//	inputs:
//	  - {name: x, dtype: float32, shape: [1]}
//	outputs:
//	  - {name: y, dtype: float32, shape: [1]}
//	nodes:
//	  - {name: x, op: placeholder}
//	  - {name: sq, op: square, inputs: [x]}
//	  - {name: y, op: add, inputs: [sq, x]}
//	targets:
//	  - {name: train, op: minimize, loss: loss, learning_rate: 0.1}

package reference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tensorio/bridge/ml"
)

// GraphFile ist der Dateiname des Graphen im Modus-Verzeichnis
const GraphFile = "graph.yaml"

type tensorSpec struct {
	Name  string   `yaml:"name"`
	DType ml.DType `yaml:"dtype"`
	Shape []int    `yaml:"shape"`
}

type nodeSpec struct {
	Name   string    `yaml:"name"`
	Op     string    `yaml:"op"`
	Inputs []string  `yaml:"inputs"`
	DType  *ml.DType `yaml:"dtype"`
	Shape  []int     `yaml:"shape"`
	Value  []float64 `yaml:"value"`

	// Trainable gilt nur fuer Variablen, Default true
	Trainable *bool `yaml:"trainable"`
}

type targetSpec struct {
	Name         string  `yaml:"name"`
	Op           string  `yaml:"op"`
	Loss         string  `yaml:"loss"`
	LearningRate float64 `yaml:"learning_rate"`
	Optimizer    string  `yaml:"optimizer"`
	Momentum     float64 `yaml:"momentum"`
}

type graphFile struct {
	Inputs  []tensorSpec `yaml:"inputs"`
	Outputs []tensorSpec `yaml:"outputs"`
	Nodes   []nodeSpec   `yaml:"nodes"`
	Targets []targetSpec `yaml:"targets"`
}

// node ist ein validierter Knoten mit abgeleitetem dtype
type node struct {
	nodeSpec
	dtype ml.DType
}

func (n *node) trainable() bool {
	return n.Op == "variable" && (n.Trainable == nil || *n.Trainable)
}

// graph ist ein validierter, azyklischer Graph
type graph struct {
	sig     ml.Signature
	nodes   map[string]*node
	decl    []string // Deklarationsreihenfolge
	order   []string // topologisch sortiert
	targets map[string]targetSpec
}

// readGraph liest und validiert dir/graph.yaml
func readGraph(dir string) (*graph, error) {
	b, err := os.ReadFile(filepath.Join(dir, GraphFile))
	if err != nil {
		return nil, err
	}

	var f graphFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}

	return newGraph(f)
}

func newGraph(f graphFile) (*graph, error) {
	g := &graph{
		nodes:   make(map[string]*node, len(f.Nodes)),
		targets: make(map[string]targetSpec, len(f.Targets)),
	}

	for _, ns := range f.Nodes {
		if ns.Name == "" {
			return nil, errors.New("node without name")
		}
		if _, ok := g.nodes[ns.Name]; ok {
			return nil, fmt.Errorf("duplicate node %q", ns.Name)
		}

		op, ok := ops[ns.Op]
		if !ok {
			return nil, fmt.Errorf("node %q: unknown op %q", ns.Name, ns.Op)
		}
		if op.arity >= 0 && len(ns.Inputs) != op.arity {
			return nil, fmt.Errorf("node %q: op %s takes %d inputs, got %d", ns.Name, ns.Op, op.arity, len(ns.Inputs))
		}

		g.nodes[ns.Name] = &node{nodeSpec: ns}
		g.decl = append(g.decl, ns.Name)
	}

	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if _, ok := g.nodes[in]; !ok {
				return nil, fmt.Errorf("node %q: dangling input %q", n.Name, in)
			}
		}
	}

	if err := g.sort(); err != nil {
		return nil, err
	}

	inputs := make(map[string]tensorSpec, len(f.Inputs))
	for _, in := range f.Inputs {
		n, ok := g.nodes[in.Name]
		if !ok || n.Op != "placeholder" {
			return nil, fmt.Errorf("input %q is not a placeholder", in.Name)
		}
		inputs[in.Name] = in
		g.sig.Inputs = append(g.sig.Inputs, ml.TensorInfo{Name: in.Name, DType: in.DType, Shape: in.Shape})
	}

	// dtypes in topologischer Reihenfolge ableiten
	for _, name := range g.order {
		n := g.nodes[name]
		switch n.Op {
		case "placeholder":
			in, ok := inputs[name]
			if !ok {
				return nil, fmt.Errorf("placeholder %q is not declared as input", name)
			}
			n.dtype = in.DType
		case "variable", "const":
			n.dtype = ml.DTypeFloat32
			if n.DType != nil {
				n.dtype = *n.DType
			}
			if err := n.checkValue(); err != nil {
				return nil, err
			}
		case "cast":
			if n.DType == nil {
				return nil, fmt.Errorf("cast %q without dtype", name)
			}
			n.dtype = *n.DType
		default:
			n.dtype = g.nodes[n.Inputs[0]].dtype
			for _, in := range n.Inputs[1:] {
				if d := g.nodes[in].dtype; d != n.dtype {
					return nil, fmt.Errorf("node %q: mixed dtypes %s and %s", name, n.dtype, d)
				}
			}
		}

		if _, err := n.dtype.Size(); err != nil {
			return nil, fmt.Errorf("node %q: %w", name, err)
		}
	}

	for _, out := range f.Outputs {
		n, ok := g.nodes[out.Name]
		if !ok {
			return nil, fmt.Errorf("output %q is not a node", out.Name)
		}
		if n.dtype != out.DType {
			return nil, fmt.Errorf("output %q is declared %s but produces %s", out.Name, out.DType, n.dtype)
		}
		g.sig.Outputs = append(g.sig.Outputs, ml.TensorInfo{Name: out.Name, DType: out.DType, Shape: out.Shape})
	}

	for _, t := range f.Targets {
		if err := g.addTarget(t); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (n *node) checkValue() error {
	if err := ml.ValidateShape(n.Shape); err != nil {
		return fmt.Errorf("node %q: %w", n.Name, err)
	}

	switch len(n.Value) {
	case 0, 1, ml.Count(n.Shape):
		return nil
	default:
		return fmt.Errorf("node %q: %d values for shape %v", n.Name, len(n.Value), n.Shape)
	}
}

func (g *graph) addTarget(t targetSpec) error {
	if _, ok := g.targets[t.Name]; ok || t.Name == "" {
		return fmt.Errorf("invalid or duplicate target %q", t.Name)
	}
	if t.Op != "minimize" {
		return fmt.Errorf("target %q: unknown op %q", t.Name, t.Op)
	}

	loss, ok := g.nodes[t.Loss]
	if !ok {
		return fmt.Errorf("target %q: loss %q is not a node", t.Name, t.Loss)
	}
	if loss.dtype != ml.DTypeFloat32 {
		return fmt.Errorf("target %q: loss %q is %s", t.Name, t.Loss, loss.dtype)
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("target %q: learning rate must be positive", t.Name)
	}

	switch t.Optimizer {
	case "":
		t.Optimizer = "sgd"
	case "sgd", "momentum":
	default:
		return fmt.Errorf("target %q: unknown optimizer %q", t.Name, t.Optimizer)
	}
	if t.Optimizer == "momentum" && t.Momentum == 0 {
		t.Momentum = 0.9
	}

	g.targets[t.Name] = t
	g.sig.Targets = append(g.sig.Targets, t.Name)
	return nil
}

// sort ordnet die Knoten topologisch und erkennt Zyklen
func (g *graph) sort() error {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(g.nodes))
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("cycle through node %q", name)
		case done:
			return nil
		}

		state[name] = visiting
		for _, in := range g.nodes[name].Inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		state[name] = done
		g.order = append(g.order, name)
		return nil
	}

	for _, name := range g.decl {
		if err := visit(name); err != nil {
			return err
		}
	}

	return nil
}

// variables gibt die Variablen-Knoten in topologischer Reihenfolge zurueck
func (g *graph) variables() []*node {
	var vars []*node
	for _, name := range g.order {
		if n := g.nodes[name]; n.Op == "variable" {
			vars = append(vars, n)
		}
	}
	return vars
}

// reachable gibt alle Knoten zurueck, von denen root abhaengt, inklusive root
func (g *graph) reachable(root string) map[string]bool {
	seen := map[string]bool{}
	stack := []string{root}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[name] {
			continue
		}
		seen[name] = true
		stack = append(stack, g.nodes[name].Inputs...)
	}
	return seen
}
