// handle.go - Ressourcen-Handle mit Zustandsmaschine Unbound -> Bound -> Released
// Jeder Besitzer einer nativen Ressource (Tensor, Bundle) nutzt diesen Typ.
package ml

import (
	"fmt"
	"log/slog"
	"runtime"
)

// HandleState is the lifecycle state of a Handle.
type HandleState int

const (
	Unbound HandleState = iota
	Bound
	Released
)

func (s HandleState) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle exclusively owns one native resource of type T.
//
// Acquire while Bound does nothing and Release frees only a Bound resource, so
// a resource is allocated at most once per binding and freed exactly once.
// Release always ends in Released, which is terminal. If the owner becomes
// unreachable while Bound, a runtime cleanup frees the resource; callers must
// not rely on it and should release explicitly, usually with defer.
//
// A Handle is not safe for concurrent use.
type Handle[T any] struct {
	name    string
	state   HandleState
	res     T
	free    func(T) error
	cleanup runtime.Cleanup
}

// NewHandle returns an Unbound handle. name is only used for logging.
func NewHandle[T any](name string, free func(T) error) *Handle[T] {
	return &Handle[T]{name: name, free: free}
}

// State returns the current lifecycle state.
func (h *Handle[T]) State() HandleState {
	return h.state
}

// Acquire binds the resource returned by alloc unless the handle is already
// Bound. alloc is not called when Bound. A failed alloc leaves the handle
// Unbound.
func (h *Handle[T]) Acquire(alloc func() (T, error)) error {
	switch h.state {
	case Bound:
		return nil
	case Released:
		return fmt.Errorf("%w: %s was released", ErrResourceNotBound, h.name)
	}

	r, err := alloc()
	if err != nil {
		return err
	}

	h.bind(r)
	return nil
}

// Bind installs r as the owned resource, freeing the previously bound one.
// Binding a Released handle fails and leaves r owned by the caller.
func (h *Handle[T]) Bind(r T) error {
	switch h.state {
	case Released:
		return fmt.Errorf("%w: %s was released", ErrResourceNotBound, h.name)
	case Bound:
		if err := h.drop(); err != nil {
			slog.Warn("failed to free replaced resource", "handle", h.name, "error", err)
		}
	}

	h.bind(r)
	return nil
}

// Get returns the bound resource.
func (h *Handle[T]) Get() (T, error) {
	if h.state != Bound {
		var zero T
		return zero, fmt.Errorf("%w: %s is %s", ErrResourceNotBound, h.name, h.state)
	}

	return h.res, nil
}

// Release frees the bound resource and moves the handle to Released. An
// Unbound handle becomes Released without calling free, a Released one stays.
func (h *Handle[T]) Release() error {
	switch h.state {
	case Released:
		return nil
	case Unbound:
		h.state = Released
		return nil
	}

	err := h.drop()
	h.state = Released
	return err
}

func (h *Handle[T]) bind(r T) {
	h.res = r
	h.state = Bound

	name, free := h.name, h.free
	h.cleanup = runtime.AddCleanup(h, func(r T) {
		slog.Debug("releasing unreachable handle", "handle", name)
		if err := free(r); err != nil {
			slog.Warn("cleanup failed to free resource", "handle", name, "error", err)
		}
	}, r)
}

// drop frees the current resource and cancels its cleanup. The state is left
// for the caller to set.
func (h *Handle[T]) drop() error {
	h.cleanup.Stop()

	r := h.res
	var zero T
	h.res = zero
	h.state = Unbound

	return h.free(r)
}
