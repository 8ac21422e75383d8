// types.go - Datentypen und Modi fuer die Native-Engine-Grenze
// Dieses Modul definiert DType (Element-Typen mit Protokoll-Codes) und Mode.
package ml

import (
	"fmt"
	"math"
	"strings"
)

// DType represents the data type of tensor elements. The numeric value is the
// code used when crossing the native boundary and matches the TensorFlow
// DataType enum.
type DType int32

const (
	DTypeFloat32 DType = 1
	DTypeInt32   DType = 3
	DTypeUInt8   DType = 4
	DTypeString  DType = 7
	DTypeInt64   DType = 9
)

// DTypes lists every supported data type in declaration order.
var DTypes = []DType{DTypeFloat32, DTypeInt32, DTypeUInt8, DTypeInt64, DTypeString}

// Code returns the native protocol identifier.
func (d DType) Code() int32 {
	return int32(d)
}

// Valid reports whether d is one of the supported data types.
func (d DType) Valid() bool {
	switch d {
	case DTypeFloat32, DTypeInt32, DTypeUInt8, DTypeInt64, DTypeString:
		return true
	default:
		return false
	}
}

// Size returns the width of one element in bytes. Variable width types
// (string) have no element size.
func (d DType) Size() (int, error) {
	switch d {
	case DTypeFloat32, DTypeInt32:
		return 4, nil
	case DTypeUInt8:
		return 1, nil
	case DTypeInt64:
		return 8, nil
	case DTypeString:
		return 0, fmt.Errorf("%w: %s has no fixed element size", ErrUnsupportedDType, d)
	default:
		return 0, fmt.Errorf("%w: code %d", ErrUnsupportedDType, int32(d))
	}
}

func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	case DTypeInt32:
		return "int32"
	case DTypeUInt8:
		return "uint8"
	case DTypeInt64:
		return "int64"
	case DTypeString:
		return "string"
	default:
		return fmt.Sprintf("dtype(%d)", int32(d))
	}
}

// ParseDType gibt den DType fuer einen Namen zurueck. Neben den kanonischen
// Namen werden die Aliase aus dem Original-Protokoll akzeptiert.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "float", "f32":
		return DTypeFloat32, nil
	case "int32", "int", "i32":
		return DTypeInt32, nil
	case "uint8", "byte", "u8":
		return DTypeUInt8, nil
	case "int64", "long", "i64":
		return DTypeInt64, nil
	case "string":
		return DTypeString, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
}

// DTypeFromCode converts a native protocol code to a DType.
func DTypeFromCode(code int32) (DType, error) {
	if d := DType(code); d.Valid() {
		return d, nil
	}

	return 0, fmt.Errorf("%w: code %d", ErrUnsupportedDType, code)
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: code %d", ErrUnsupportedDType, int32(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Mode selects which graph of a bundle is loaded and whether training state is
// initialized.
type Mode int

const (
	ModeServe Mode = iota
	ModeTrain
)

// String returns the token passed to the native engine.
func (m Mode) String() string {
	switch m {
	case ModeServe:
		return "serve"
	case ModeTrain:
		return "train"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Subdir is the bundle subdirectory holding the graph for this mode.
func (m Mode) Subdir() string {
	switch m {
	case ModeTrain:
		return "train"
	default:
		return "predict"
	}
}

// ParseMode parses "serve" or "train".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "serve", "":
		return ModeServe, nil
	case "train":
		return ModeTrain, nil
	}

	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Count returns the number of elements described by shape. A rank zero shape
// describes a scalar.
func Count(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// maxElements bounds Count so that Count times the widest element still fits
// in an int.
const maxElements = math.MaxInt / 8

// ValidateShape checks that every dimension is positive and that the byte size
// of the shape is representable for every fixed-width dtype.
func ValidateShape(shape []int) error {
	n := 1
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d is %d in %v", ErrInvalidShape, i, d, shape)
		}
		if n > maxElements/d {
			return fmt.Errorf("%w: %v has too many elements", ErrInvalidShape, shape)
		}
		n *= d
	}
	return nil
}
