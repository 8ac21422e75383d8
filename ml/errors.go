// errors.go - Fehler-Taxonomie der Bridge
// Sentinel-Fehler fuer errors.Is und typisierte Fehler mit Details fuer errors.As.
package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrBundleLoad: Bundle-Verzeichnis fehlt, ist kaputt oder nicht lesbar.
	ErrBundleLoad = errors.New("bundle load failed")

	// ErrNativeLoad: die Engine hat den Graphen abgelehnt.
	ErrNativeLoad = errors.New("native engine rejected graph")

	// ErrResourceNotBound: Operation auf einem Unbound/Released Handle.
	ErrResourceNotBound = errors.New("resource not bound")

	ErrSizeMismatch      = errors.New("size mismatch")
	ErrShapeMismatch     = errors.New("shape mismatch")
	ErrUnknownTensorName = errors.New("unknown tensor name")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrInvalidShape      = errors.New("invalid shape")
	ErrUnsupportedDType  = errors.New("unsupported dtype")

	// ErrEngineMismatch: ein Buffer wurde von einer anderen Engine angelegt.
	ErrEngineMismatch = errors.New("buffer belongs to another engine")
)

// ErrNotDirectory is the I/O cause of a BundleLoadError when a path exists but
// is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// BundleLoadError reports a missing or malformed bundle directory. It matches
// both ErrBundleLoad and the underlying I/O error.
type BundleLoadError struct {
	Path string
	Err  error
}

func (e *BundleLoadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrBundleLoad, e.Path, e.Err)
}

func (e *BundleLoadError) Unwrap() []error {
	return []error{ErrBundleLoad, e.Err}
}

// SizeMismatchError reports a caller buffer whose length does not match the
// byte size of the descriptor it is written to.
type SizeMismatchError struct {
	Name      string
	Want, Got int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: tensor %q wants %d bytes, got %d", ErrSizeMismatch, e.Name, e.Want, e.Got)
}

func (e *SizeMismatchError) Unwrap() error {
	return ErrSizeMismatch
}

// ShapeMismatchError reports a descriptor whose dtype or shape disagrees with
// what the graph declares or produces for the same name.
type ShapeMismatchError struct {
	Name      string
	Want, Got TensorInfo
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: tensor %q is %s%v, graph has %s%v", ErrShapeMismatch, e.Name, e.Got.DType, e.Got.Shape, e.Want.DType, e.Want.Shape)
}

func (e *ShapeMismatchError) Unwrap() error {
	return ErrShapeMismatch
}

// UnknownTensorNameError reports a name the loaded graph does not expose. Kind
// is "input", "output" or "target".
type UnknownTensorNameError struct {
	Name string
	Kind string
}

func (e *UnknownTensorNameError) Error() string {
	return fmt.Sprintf("%s: no %s named %q", ErrUnknownTensorName, e.Kind, e.Name)
}

func (e *UnknownTensorNameError) Unwrap() error {
	return ErrUnknownTensorName
}
