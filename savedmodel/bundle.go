// bundle.go - Modell-Bundle: Laden, Ausfuehren, Trainieren, Exportieren
// Enthält: Bundle struct, Load, Run, Train, Export, Close, WithBundle
//
// Ein Bundle-Verzeichnis enthaelt fuer jeden Modus ein Unterverzeichnis mit
// dem Graphen: predict/ fuer Serve und train/ fuer Train.

package savedmodel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/tensorio/bridge/checkpoint"
	"github.com/tensorio/bridge/logutil"
	"github.com/tensorio/bridge/ml"
)

// Dateinamen, die Export im Zielverzeichnis anlegt
const (
	CheckpointIndex = checkpoint.DefaultPrefix + checkpoint.IndexSuffix
	CheckpointData  = checkpoint.DefaultPrefix + checkpoint.DataSuffix
)

// Bundle ist ein geladenes Modell. Ein Bundle ist nicht thread-sicher und
// behaelt keine der uebergebenen Tensoren.
type Bundle struct {
	dir    string
	mode   ml.Mode
	engine ml.Engine
	sig    ml.Signature
	steps  int

	h *ml.Handle[ml.Session]
}

// Load laedt das Bundle in dir fuer mode. dir darf auch direkt auf das
// Modus-Unterverzeichnis zeigen. Schlaegt Load fehl, bleibt nichts zum
// Freigeben uebrig.
func Load(dir string, mode ml.Mode, opts ...Option) (*Bundle, error) {
	if mode != ml.ModeServe && mode != ml.ModeTrain {
		return nil, fmt.Errorf("%w: %s", ml.ErrInvalidMode, mode)
	}

	graphDir, err := resolve(dir, mode)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	if o.engine == nil {
		if o.engine, err = ml.DefaultEngine(); err != nil {
			return nil, err
		}
	}

	b := &Bundle{
		dir:    dir,
		mode:   mode,
		engine: o.engine,
		h:      ml.NewHandle("bundle "+dir, closeSession),
	}

	if err := b.h.Acquire(func() (ml.Session, error) {
		return o.engine.Load(graphDir, mode)
	}); err != nil {
		return nil, err
	}

	sess, err := b.h.Get()
	if err != nil {
		return nil, err
	}
	b.sig = sess.Signature()

	slog.Info("bundle loaded", "dir", dir, "mode", mode, "engine", o.engine.Name(),
		"inputs", len(b.sig.Inputs), "outputs", len(b.sig.Outputs), "targets", len(b.sig.Targets))
	return b, nil
}

func closeSession(s ml.Session) error {
	return s.Close()
}

// resolve gibt das Verzeichnis mit dem Graphen fuer mode zurueck
func resolve(dir string, mode ml.Mode) (string, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return "", &ml.BundleLoadError{Path: dir, Err: err}
	}
	if !fi.IsDir() {
		return "", &ml.BundleLoadError{Path: dir, Err: ml.ErrNotDirectory}
	}

	sub := filepath.Join(dir, mode.Subdir())
	fi, err = os.Stat(sub)
	switch {
	case err == nil && fi.IsDir():
		return sub, nil
	case filepath.Base(filepath.Clean(dir)) == mode.Subdir():
		return dir, nil
	case err == nil:
		return "", &ml.BundleLoadError{Path: sub, Err: ml.ErrNotDirectory}
	default:
		return "", &ml.BundleLoadError{Path: sub, Err: err}
	}
}

func (b *Bundle) Dir() string {
	return b.dir
}

func (b *Bundle) Mode() ml.Mode {
	return b.mode
}

// Engine gibt die Engine zurueck, mit der das Bundle geladen wurde
func (b *Bundle) Engine() ml.Engine {
	return b.engine
}

// Inputs gibt die Eingaben des Graphen zurueck
func (b *Bundle) Inputs() []ml.TensorInfo {
	return cloneInfos(b.sig.Inputs)
}

// Outputs gibt die Ausgaben des Graphen zurueck
func (b *Bundle) Outputs() []ml.TensorInfo {
	return cloneInfos(b.sig.Outputs)
}

// Targets gibt die Trainingsziele zurueck, leer im Serve-Modus
func (b *Bundle) Targets() []string {
	return slices.Clone(b.sig.Targets)
}

// Steps gibt die Anzahl erfolgreicher Train-Aufrufe zurueck
func (b *Bundle) Steps() int {
	return b.steps
}

// State gibt den Zustand der nativen Session zurueck
func (b *Bundle) State() ml.HandleState {
	return b.h.State()
}

func cloneInfos(infos []ml.TensorInfo) []ml.TensorInfo {
	out := make([]ml.TensorInfo, len(infos))
	for i, ti := range infos {
		out[i] = ml.TensorInfo{Name: ti.Name, DType: ti.DType, Shape: slices.Clone(ti.Shape)}
	}
	return out
}

// NewTensor erstellt einen Deskriptor auf der Engine des Bundles
func (b *Bundle) NewTensor(dtype ml.DType, shape []int, name string) (*Tensor, error) {
	return NewTensor(dtype, shape, name, WithEngine(b.engine))
}

// =============================================================================
// Ausfuehrung
// =============================================================================

// Run fuehrt den Graphen mit inputs aus und bindet die Ergebnisse an outputs.
// Alle inputs muessen gebunden sein. Passt ein Ergebnis nicht zu dtype und
// shape seines Deskriptors, wird kein Output gebunden.
func (b *Bundle) Run(inputs, outputs []*Tensor) error {
	ctx := context.Background()

	sess, feeds, fetches, err := b.prepare(inputs, outputs, nil)
	if err != nil {
		return err
	}

	slog.Debug("bundle run", "dir", b.dir, "inputs", len(feeds), "outputs", len(fetches))
	return b.fetch(ctx, sess, feeds, fetches, outputs)
}

// Train fuehrt die Trainingsziele ops einmal aus und wertet danach outputs
// mit denselben inputs aus. Nur im Train-Modus erlaubt. Steps zaehlt nur
// Aufrufe, in denen mindestens ein Ziel lief.
func (b *Bundle) Train(inputs, outputs []*Tensor, ops []string) error {
	ctx := context.Background()

	if _, err := b.h.Get(); err != nil {
		return err
	}
	if b.mode != ml.ModeTrain {
		return fmt.Errorf("%w: cannot train a %s bundle", ml.ErrInvalidMode, b.mode)
	}

	sess, feeds, fetches, err := b.prepare(inputs, outputs, ops)
	if err != nil {
		return err
	}

	if len(ops) > 0 {
		results, err := sess.Run(ctx, feeds, nil, ops)
		if err != nil {
			return err
		}
		freeAll(results)
		b.steps++
	}

	slog.Debug("bundle train", "dir", b.dir, "ops", ops, "step", b.steps)
	return b.fetch(ctx, sess, feeds, fetches, outputs)
}

// prepare prueft alle Deskriptoren gegen die Signatur, bevor die Engine
// aufgerufen wird
func (b *Bundle) prepare(inputs, outputs []*Tensor, ops []string) (ml.Session, []ml.Feed, []string, error) {
	sess, err := b.h.Get()
	if err != nil {
		return nil, nil, nil, err
	}

	feeds := make([]ml.Feed, 0, len(inputs))
	for _, t := range inputs {
		info, ok := b.sig.Input(t.name)
		if !ok {
			return nil, nil, nil, &ml.UnknownTensorNameError{Name: t.name, Kind: "input"}
		}
		if !info.Matches(t.dtype, t.shape) {
			return nil, nil, nil, &ml.ShapeMismatchError{Name: t.name, Want: info, Got: t.Info()}
		}

		buf, err := t.buffer()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("input %q: %w", t.name, err)
		}
		feeds = append(feeds, ml.Feed{Name: t.name, Buffer: buf})
	}

	fetches := make([]string, 0, len(outputs))
	for _, t := range outputs {
		info, ok := b.sig.Output(t.name)
		if !ok {
			return nil, nil, nil, &ml.UnknownTensorNameError{Name: t.name, Kind: "output"}
		}
		if !info.Matches(t.dtype, t.shape) {
			return nil, nil, nil, &ml.ShapeMismatchError{Name: t.name, Want: info, Got: t.Info()}
		}
		if t.State() == ml.Released {
			return nil, nil, nil, fmt.Errorf("%w: output %q was closed", ml.ErrResourceNotBound, t.name)
		}
		fetches = append(fetches, t.name)
	}

	for _, op := range ops {
		if !b.sig.HasTarget(op) {
			return nil, nil, nil, &ml.UnknownTensorNameError{Name: op, Kind: "target"}
		}
	}

	return sess, feeds, fetches, nil
}

// fetch wertet fetches aus und bindet die Ergebnisse. Erst wenn alle
// Ergebnisse passen, wird gebunden.
func (b *Bundle) fetch(ctx context.Context, sess ml.Session, feeds []ml.Feed, fetches []string, outputs []*Tensor) error {
	if len(fetches) == 0 {
		return nil
	}

	results, err := sess.Run(ctx, feeds, fetches, nil)
	if err != nil {
		return err
	}

	if len(results) != len(outputs) {
		freeAll(results)
		return fmt.Errorf("engine returned %d results for %d outputs", len(results), len(outputs))
	}

	for i, r := range results {
		t := outputs[i]
		if r.DType() != t.dtype || !slices.Equal(r.Shape(), t.shape) {
			freeAll(results)
			return &ml.ShapeMismatchError{
				Name: t.name,
				Want: ml.TensorInfo{Name: t.name, DType: r.DType(), Shape: r.Shape()},
				Got:  t.Info(),
			}
		}
	}

	for i, r := range results {
		if err := outputs[i].bind(r, b.engine); err != nil {
			freeAll(results[i:])
			return err
		}
		logutil.Trace("output bound", "tensor", outputs[i])
	}

	return nil
}

func freeAll(bs []ml.Buffer) {
	for _, b := range bs {
		if err := b.Free(); err != nil {
			slog.Warn("failed to free engine buffer", "error", err)
		}
	}
}

// Export schreibt die trainierten Variablen nach dir/checkpoint.index und
// dir/checkpoint.data-00000-of-00001. dir muss existieren.
func (b *Bundle) Export(dir string) error {
	sess, err := b.h.Get()
	if err != nil {
		return err
	}

	if b.mode != ml.ModeTrain {
		return fmt.Errorf("%w: cannot export a %s bundle", ml.ErrInvalidMode, b.mode)
	}

	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &fs.PathError{Op: "export", Path: dir, Err: ml.ErrNotDirectory}
	}

	if err := sess.Save(filepath.Join(dir, checkpoint.DefaultPrefix)); err != nil {
		return err
	}

	slog.Info("bundle exported", "dir", b.dir, "to", dir, "steps", b.steps)
	return nil
}

// Close entlaedt das Bundle. Mehrfaches Schliessen ist erlaubt.
func (b *Bundle) Close() error {
	if b.h.State() != ml.Bound {
		return nil
	}

	err := b.h.Release()
	slog.Info("bundle unloaded", "dir", b.dir, "mode", b.mode)
	return err
}

// WithBundle laedt ein Bundle, ruft fn auf und entlaedt es auf jedem Weg,
// auch bei einem panic in fn.
func WithBundle(dir string, mode ml.Mode, fn func(*Bundle) error, opts ...Option) (err error) {
	b, err := Load(dir, mode, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, b.Close())
	}()

	return fn(b)
}
