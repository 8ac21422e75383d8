// cmd_tensor.go - Tensor-Flags der CLI und Ausgabe von Tensor-Werten
// Hauptfunktionen: parseTensorFlag, tensorFlag.tensor, formatValues, printOutputs
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/tensorio/bridge/format"
	"github.com/tensorio/bridge/ml"
	"github.com/tensorio/bridge/savedmodel"
)

// tensorFlag ist ein --input oder --output Wert der Form
// name:dtype[:shape][=v1,v2,...] bzw. name:dtype[:shape]=@datei
type tensorFlag struct {
	name  string
	dtype ml.DType
	shape []int

	values []string
	file   string
}

// parseTensorFlag zerlegt einen Tensor-Flag. Ohne Shape bekommt eine Eingabe
// die Shape [len(values)], eine Ausgabe muss ihre Shape angeben.
func parseTensorFlag(s string, input bool) (tensorFlag, error) {
	spec, data, hasData := strings.Cut(s, "=")
	if hasData && !input {
		return tensorFlag{}, fmt.Errorf("output %q cannot carry values", s)
	}
	if input && !hasData {
		return tensorFlag{}, fmt.Errorf("input %q needs values (name:dtype:shape=v1,v2 or name:dtype:shape=@file)", s)
	}

	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return tensorFlag{}, fmt.Errorf("invalid tensor %q, expected name:dtype[:shape]", s)
	}

	f := tensorFlag{name: parts[0]}

	var err error
	if f.dtype, err = ml.ParseDType(parts[1]); err != nil {
		return tensorFlag{}, err
	}

	switch {
	case strings.HasPrefix(data, "@"):
		f.file = data[1:]
	case data != "":
		f.values = strings.Split(data, ",")
		for i := range f.values {
			f.values[i] = strings.TrimSpace(f.values[i])
		}
	}

	switch {
	case len(parts) == 3:
		if f.shape, err = format.ParseShape(parts[2]); err != nil {
			return tensorFlag{}, fmt.Errorf("%w: %q: %v", ml.ErrInvalidShape, parts[2], err)
		}
	case input && f.file == "":
		f.shape = []int{len(f.values)}
	default:
		return tensorFlag{}, fmt.Errorf("%q needs a shape", s)
	}

	return f, nil
}

func parseTensorFlags(ss []string, input bool) ([]tensorFlag, error) {
	fs := make([]tensorFlag, len(ss))
	for i, s := range ss {
		f, err := parseTensorFlag(s, input)
		if err != nil {
			return nil, err
		}
		fs[i] = f
	}
	return fs, nil
}

func parseValues[T any](ss []string, parse func(string) (T, error)) ([]T, error) {
	vs := make([]T, len(ss))
	for i, s := range ss {
		v, err := parse(s)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

// tensor erstellt den Deskriptor auf der Engine des Bundles und schreibt die
// Werte der Eingabe
func (f tensorFlag) tensor(b *savedmodel.Bundle) (*savedmodel.Tensor, error) {
	t, err := b.NewTensor(f.dtype, f.shape, f.name)
	if err != nil {
		return nil, err
	}

	if err := f.fill(t); err != nil {
		t.Close()
		return nil, fmt.Errorf("tensor %q: %w", f.name, err)
	}
	return t, nil
}

func (f tensorFlag) fill(t *savedmodel.Tensor) error {
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return err
		}
		return t.SetBytes(data)
	}

	if f.values == nil {
		return nil
	}

	switch f.dtype {
	case ml.DTypeFloat32:
		vs, err := parseValues(f.values, func(s string) (float32, error) {
			v, err := strconv.ParseFloat(s, 32)
			return float32(v), err
		})
		if err != nil {
			return err
		}
		return t.SetFloat32s(vs)
	case ml.DTypeInt32:
		vs, err := parseValues(f.values, func(s string) (int32, error) {
			v, err := strconv.ParseInt(s, 10, 32)
			return int32(v), err
		})
		if err != nil {
			return err
		}
		return t.SetInt32s(vs)
	case ml.DTypeInt64:
		vs, err := parseValues(f.values, func(s string) (int64, error) {
			return strconv.ParseInt(s, 10, 64)
		})
		if err != nil {
			return err
		}
		return t.SetInt64s(vs)
	case ml.DTypeUInt8:
		vs, err := parseValues(f.values, func(s string) (uint8, error) {
			v, err := strconv.ParseUint(s, 10, 8)
			return uint8(v), err
		})
		if err != nil {
			return err
		}
		return t.SetUint8s(vs)
	default:
		return fmt.Errorf("%w: %s values", ml.ErrUnsupportedDType, f.dtype)
	}
}

// tensors erstellt alle Deskriptoren; bei einem Fehler werden die bereits
// erstellten wieder freigegeben
func tensors(b *savedmodel.Bundle, fs []tensorFlag) ([]*savedmodel.Tensor, error) {
	ts := make([]*savedmodel.Tensor, 0, len(fs))
	for _, f := range fs {
		t, err := f.tensor(b)
		if err != nil {
			closeTensors(ts)
			return nil, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}

func closeTensors(ts []*savedmodel.Tensor) {
	for _, t := range ts {
		t.Close()
	}
}

// formatValues gibt die Elemente eines gebundenen Deskriptors als Strings zurueck
func formatValues(t *savedmodel.Tensor) ([]string, error) {
	switch t.DType() {
	case ml.DTypeFloat32:
		vs, err := t.Float32s()
		return formatEach(vs, err, func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) })
	case ml.DTypeInt32:
		vs, err := t.Int32s()
		return formatEach(vs, err, func(v int32) string { return strconv.FormatInt(int64(v), 10) })
	case ml.DTypeInt64:
		vs, err := t.Int64s()
		return formatEach(vs, err, func(v int64) string { return strconv.FormatInt(v, 10) })
	case ml.DTypeUInt8:
		vs, err := t.Uint8s()
		return formatEach(vs, err, func(v uint8) string { return strconv.FormatUint(uint64(v), 10) })
	default:
		return nil, fmt.Errorf("%w: %s values", ml.ErrUnsupportedDType, t.DType())
	}
}

func formatEach[T any](vs []T, err error, f func(T) string) ([]string, error) {
	if err != nil {
		return nil, err
	}

	ss := make([]string, len(vs))
	for i, v := range vs {
		ss[i] = f(v)
	}
	return ss, nil
}

// terminalWidth gibt die Breite zurueck, wenn w ein Terminal ist
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}

	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, false
	}
	return width, true
}

// printOutputs gibt die Ausgaben aus. Im Terminal als Tabelle mit auf die
// Breite gekuerzten Werten, sonst eine Zeile pro Tensor (name dtype shape werte)
func printOutputs(w io.Writer, ts []*savedmodel.Tensor) error {
	rows := make([][]string, 0, len(ts))
	for _, t := range ts {
		vs, err := formatValues(t)
		if err != nil {
			return fmt.Errorf("output %q: %w", t.Name(), err)
		}
		rows = append(rows, []string{t.Name(), t.DType().String(), format.Shape(t.Shape()), strings.Join(vs, ",")})
	}

	width, ok := terminalWidth(w)
	if !ok {
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return nil
	}

	for _, row := range rows {
		used := runewidth.StringWidth(row[0]) + runewidth.StringWidth(row[1]) + runewidth.StringWidth(row[2]) + 3*4
		if limit := width - used; limit > 10 {
			row[3] = runewidth.Truncate(row[3], limit, "...")
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE", "VALUES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
	return nil
}

var errNoOutputs = errors.New("at least one --output is required")
