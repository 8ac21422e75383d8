// checkpoint.go - Checkpoint-Dateien fuer trainierte Variablen
//
// Ein Checkpoint besteht aus zwei Dateien mit gemeinsamem Praefix:
//   - <prefix>.index: protobuf-kodierte Struct mit Format-Version, Anzahl der
//     Shards und Metadaten pro Variable (dtype, shape, offset, size, sha256)
//   - <prefix>.data-00000-of-00001: die rohen Bytes aller Variablen
//     hintereinander, nach Namen sortiert
//
// Beide Dateien werden erst in eine temporaere Datei geschrieben und dann
// umbenannt, ein abgebrochener Write hinterlaesst keinen halben Checkpoint.
package checkpoint

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tensorio/bridge/format"
	"github.com/tensorio/bridge/ml"
)

const (
	// IndexSuffix wird an das Praefix der Index-Datei angehaengt
	IndexSuffix = ".index"

	// DataSuffix wird an das Praefix der einzigen Shard-Datei angehaengt
	DataSuffix = ".data-00000-of-00001"

	// DefaultPrefix ist der Dateiname-Praefix beim Export eines Bundles
	DefaultPrefix = "checkpoint"

	formatVersion = 1
)

// ErrCorrupt wird zurueckgegeben, wenn Index und Shard nicht zusammenpassen.
var ErrCorrupt = errors.New("checkpoint corrupt")

// Variable ist ein benannter Tensor im Checkpoint.
type Variable struct {
	Name  string
	DType ml.DType
	Shape []int
	Data  []byte
}

// Exists reports whether both files of the checkpoint at prefix are present.
func Exists(prefix string) bool {
	for _, p := range []string{prefix + IndexSuffix, prefix + DataSuffix} {
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			return false
		}
	}
	return true
}

// Write writes vars as a checkpoint at prefix. The directory of prefix must
// exist.
func Write(prefix string, vars []Variable) error {
	vars = slices.Clone(vars)
	slices.SortFunc(vars, func(a, b Variable) int { return cmp.Compare(a.Name, b.Name) })

	entries := make(map[string]any, len(vars))
	var data []byte
	for i, v := range vars {
		if i > 0 && vars[i-1].Name == v.Name {
			return fmt.Errorf("duplicate variable %q", v.Name)
		}

		size, err := v.DType.Size()
		if err != nil {
			return fmt.Errorf("variable %q: %w", v.Name, err)
		}
		if want := size * ml.Count(v.Shape); want != len(v.Data) {
			return &ml.SizeMismatchError{Name: v.Name, Want: want, Got: len(v.Data)}
		}

		shape := make([]any, len(v.Shape))
		for j, d := range v.Shape {
			shape[j] = float64(d)
		}

		sum := sha256.Sum256(v.Data)
		entries[v.Name] = map[string]any{
			"dtype":  v.DType.String(),
			"shape":  shape,
			"offset": float64(len(data)),
			"size":   float64(len(v.Data)),
			"sha256": hex.EncodeToString(sum[:]),
		}
		data = append(data, v.Data...)
	}

	index, err := structpb.NewStruct(map[string]any{
		"format":    float64(formatVersion),
		"shards":    float64(1),
		"variables": entries,
	})
	if err != nil {
		return err
	}

	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(index)
	if err != nil {
		return err
	}

	// Shard zuerst, damit ein vorhandener Index nie auf fehlende Daten zeigt
	if err := writeFile(prefix+DataSuffix, data); err != nil {
		return err
	}
	if err := writeFile(prefix+IndexSuffix, b); err != nil {
		return err
	}

	slog.Debug("checkpoint written", "prefix", prefix, "variables", len(vars), "size", format.HumanBytes2(uint64(len(data))))
	return nil
}

// Read loads every variable of the checkpoint at prefix, sorted by name. Sizes
// and checksums are verified.
func Read(prefix string) ([]Variable, error) {
	b, err := os.ReadFile(prefix + IndexSuffix)
	if err != nil {
		return nil, err
	}

	var index structpb.Struct
	if err := proto.Unmarshal(b, &index); err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrCorrupt, err)
	}

	fields := index.GetFields()
	if v := fields["format"].GetNumberValue(); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %v", ErrCorrupt, v)
	}
	if v := fields["shards"].GetNumberValue(); v != 1 {
		return nil, fmt.Errorf("%w: unsupported shard count %v", ErrCorrupt, v)
	}

	data, err := os.ReadFile(prefix + DataSuffix)
	if err != nil {
		return nil, err
	}

	entries := fields["variables"].GetStructValue().GetFields()
	vars := make([]Variable, 0, len(entries))
	for name, entry := range entries {
		v, err := decodeVariable(name, entry.GetStructValue(), data)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}

	slices.SortFunc(vars, func(a, b Variable) int { return cmp.Compare(a.Name, b.Name) })
	return vars, nil
}

func decodeVariable(name string, entry *structpb.Struct, data []byte) (Variable, error) {
	if entry == nil {
		return Variable{}, fmt.Errorf("%w: variable %q has no metadata", ErrCorrupt, name)
	}
	f := entry.GetFields()

	dtype, err := ml.ParseDType(f["dtype"].GetStringValue())
	if err != nil {
		return Variable{}, fmt.Errorf("%w: variable %q: %v", ErrCorrupt, name, err)
	}

	dims := f["shape"].GetListValue().GetValues()
	shape := make([]int, 0, len(dims))
	for _, d := range dims {
		shape = append(shape, int(d.GetNumberValue()))
	}
	if err := ml.ValidateShape(shape); err != nil {
		return Variable{}, fmt.Errorf("%w: variable %q: %v", ErrCorrupt, name, err)
	}

	offset, size := int(f["offset"].GetNumberValue()), int(f["size"].GetNumberValue())
	width, err := dtype.Size()
	if err != nil {
		return Variable{}, fmt.Errorf("%w: variable %q: %v", ErrCorrupt, name, err)
	}
	if size != width*ml.Count(shape) || offset < 0 || offset+size > len(data) {
		return Variable{}, fmt.Errorf("%w: variable %q spans [%d, %d) of %d bytes", ErrCorrupt, name, offset, offset+size, len(data))
	}

	b := slices.Clone(data[offset : offset+size])
	sum := sha256.Sum256(b)
	if hex.EncodeToString(sum[:]) != f["sha256"].GetStringValue() {
		return Variable{}, fmt.Errorf("%w: variable %q checksum mismatch", ErrCorrupt, name)
	}

	return Variable{Name: name, DType: dtype, Shape: shape, Data: b}, nil
}

func writeFile(path string, b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}
