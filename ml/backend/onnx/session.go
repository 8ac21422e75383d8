//go:build onnx && cgo

// MODUL: onnx/session
// ZWECK: Geladenes ONNX-Modell als ml.Session
// INPUT: predict/model.onnx, Feeds, Fetch-Namen
// OUTPUT: Output-Buffer in Fetch-Reihenfolge
// NEBENEFFEKTE: Alloziert ONNX Runtime Ressourcen
// ABHAENGIGKEITEN: onnxruntime_go
// HINWEISE: Keine Trainingsziele, Save wird nicht unterstuetzt

package onnx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/tensorio/bridge/ml"
)

// Session ist ein geladenes ONNX-Modell
type Session struct {
	e     *Engine
	inner *ort.DynamicAdvancedSession
	sig   ml.Signature
	path  string
}

// Load laedt dir/model.onnx. Nur der Serve-Modus wird unterstuetzt.
func (e *Engine) Load(dir string, mode ml.Mode) (ml.Session, error) {
	if mode != ml.ModeServe {
		return nil, fmt.Errorf("%w: onnx engine cannot train", ml.ErrNativeLoad)
	}

	path := filepath.Join(dir, ModelFile)
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ml.ErrNativeLoad, path, err)
	}

	var sig ml.Signature
	var inNames, outNames []string
	for _, info := range inputs {
		ti, err := tensorInfo(info)
		if err != nil {
			return nil, fmt.Errorf("%w: input %q: %v", ml.ErrNativeLoad, info.Name, err)
		}
		sig.Inputs = append(sig.Inputs, ti)
		inNames = append(inNames, info.Name)
	}
	for _, info := range outputs {
		ti, err := tensorInfo(info)
		if err != nil {
			return nil, fmt.Errorf("%w: output %q: %v", ml.ErrNativeLoad, info.Name, err)
		}
		sig.Outputs = append(sig.Outputs, ti)
		outNames = append(outNames, info.Name)
	}

	inner, err := ort.NewDynamicAdvancedSession(path, inNames, outNames, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ml.ErrNativeLoad, path, err)
	}

	e.track(1)
	slog.Debug("onnx model loaded", "path", path, "inputs", len(inNames), "outputs", len(outNames))
	return &Session{e: e, inner: inner, sig: sig, path: path}, nil
}

func tensorInfo(info ort.InputOutputInfo) (ml.TensorInfo, error) {
	if info.OrtValueType != ort.ONNXTypeTensor {
		return ml.TensorInfo{}, fmt.Errorf("%w: %v", errUnsupportedElement, info.OrtValueType)
	}

	dtype, err := dtypeOf(info.DataType)
	if err != nil {
		return ml.TensorInfo{}, err
	}

	shape := make([]int, len(info.Dimensions))
	for i, d := range info.Dimensions {
		shape[i] = int(d)
		if d < 0 {
			shape[i] = -1
		}
	}

	return ml.TensorInfo{Name: info.Name, DType: dtype, Shape: shape}, nil
}

func (s *Session) Signature() ml.Signature {
	return s.sig
}

func (s *Session) Run(ctx context.Context, feeds []ml.Feed, fetches []string, targets []string) ([]ml.Buffer, error) {
	if s.inner == nil {
		return nil, fmt.Errorf("%w: onnx session closed", ml.ErrResourceNotBound)
	}
	if len(targets) > 0 {
		return nil, &ml.UnknownTensorNameError{Name: targets[0], Kind: "target"}
	}

	byName := make(map[string]ml.Buffer, len(feeds))
	for _, f := range feeds {
		if _, ok := s.sig.Input(f.Name); !ok {
			return nil, &ml.UnknownTensorNameError{Name: f.Name, Kind: "input"}
		}
		byName[f.Name] = f.Buffer
	}

	index := make(map[string]int, len(s.sig.Outputs))
	for i, o := range s.sig.Outputs {
		index[o.Name] = i
	}
	for _, name := range fetches {
		if _, ok := index[name]; !ok {
			return nil, &ml.UnknownTensorNameError{Name: name, Kind: "output"}
		}
	}

	inputs := make([]ort.Value, len(s.sig.Inputs))
	defer destroyAll(inputs)
	for i, ti := range s.sig.Inputs {
		fed, ok := byName[ti.Name]
		if !ok {
			return nil, fmt.Errorf("input %q was not fed", ti.Name)
		}
		buf, ok := fed.(*Buffer)
		if !ok || buf.e != s.e {
			return nil, fmt.Errorf("%w: input %q is a %T", ml.ErrEngineMismatch, ti.Name, fed)
		}

		v, err := buf.tensor()
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", ti.Name, err)
		}
		inputs[i] = v
	}

	// Outputs werden von der Runtime alloziert
	outputs := make([]ort.Value, len(s.sig.Outputs))
	defer destroyAll(outputs)
	if err := s.inner.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	results := make([]ml.Buffer, 0, len(fetches))
	for _, name := range fetches {
		info := s.sig.Outputs[index[name]]
		b, err := s.buffer(info.DType, outputs[index[name]])
		if err != nil {
			for _, r := range results {
				r.Free()
			}
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		results = append(results, b)
	}

	return results, nil
}

// buffer kopiert einen von der Runtime allozierten Output in einen Buffer
func (s *Session) buffer(dtype ml.DType, v ort.Value) (*Buffer, error) {
	if v == nil {
		return nil, errors.New("runtime produced no value")
	}

	dims := v.GetShape()
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}

	var data []byte
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		for _, f := range t.GetData() {
			data = binary.NativeEndian.AppendUint32(data, math.Float32bits(f))
		}
	case *ort.Tensor[int32]:
		for _, i := range t.GetData() {
			data = binary.NativeEndian.AppendUint32(data, uint32(i))
		}
	case *ort.Tensor[int64]:
		for _, i := range t.GetData() {
			data = binary.NativeEndian.AppendUint64(data, uint64(i))
		}
	case *ort.Tensor[uint8]:
		data = append(data, t.GetData()...)
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupportedElement, v)
	}

	return s.e.newBuffer(dtype, shape, data), nil
}

func destroyAll(vs []ort.Value) {
	for _, v := range vs {
		if v != nil {
			v.Destroy()
		}
	}
}

// Save wird nicht unterstuetzt
func (s *Session) Save(prefix string) error {
	return fmt.Errorf("onnx engine cannot export %s: %w", prefix, errors.ErrUnsupported)
}

func (s *Session) Close() error {
	if s.inner == nil {
		return fmt.Errorf("%w: onnx session closed twice", ml.ErrResourceNotBound)
	}

	err := s.inner.Destroy()
	s.inner = nil
	s.e.track(-1)
	return err
}
