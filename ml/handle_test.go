package ml

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	id    int
	freed int
}

func newFakeHandle() (*Handle[*fakeResource], *[]*fakeResource) {
	var freed []*fakeResource
	h := NewHandle("fake", func(r *fakeResource) error {
		r.freed++
		freed = append(freed, r)
		return nil
	})
	return h, &freed
}

func TestHandleLifecycle(t *testing.T) {
	h, freed := newFakeHandle()
	require.Equal(t, Unbound, h.State())

	_, err := h.Get()
	require.ErrorIs(t, err, ErrResourceNotBound)

	allocs := 0
	alloc := func() (*fakeResource, error) {
		allocs++
		return &fakeResource{id: allocs}, nil
	}

	require.NoError(t, h.Acquire(alloc))
	require.NoError(t, h.Acquire(alloc))
	require.Equal(t, 1, allocs, "Acquire auf gebundenem Handle darf nicht allokieren")
	require.Equal(t, Bound, h.State())

	r, err := h.Get()
	require.NoError(t, err)
	require.Equal(t, 1, r.id)

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	require.Equal(t, Released, h.State())
	require.Len(t, *freed, 1)
	require.Equal(t, 1, r.freed)

	require.ErrorIs(t, h.Acquire(alloc), ErrResourceNotBound)
	require.ErrorIs(t, h.Bind(&fakeResource{}), ErrResourceNotBound)
	_, err = h.Get()
	require.ErrorIs(t, err, ErrResourceNotBound)
}

func TestHandleBindReplaces(t *testing.T) {
	h, freed := newFakeHandle()

	first, second := &fakeResource{id: 1}, &fakeResource{id: 2}
	require.NoError(t, h.Bind(first))
	require.NoError(t, h.Bind(second))

	require.Equal(t, []*fakeResource{first}, *freed)
	r, err := h.Get()
	require.NoError(t, err)
	require.Same(t, second, r)

	require.NoError(t, h.Release())
	require.Equal(t, []*fakeResource{first, second}, *freed)
	require.Equal(t, 1, first.freed)
	require.Equal(t, 1, second.freed)
}

func TestHandleFailedAcquire(t *testing.T) {
	h, freed := newFakeHandle()

	boom := errors.New("boom")
	err := h.Acquire(func() (*fakeResource, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, Unbound, h.State())

	require.NoError(t, h.Release())
	require.Equal(t, Released, h.State(), "Release auf ungebundenem Handle ist endgueltig")
	require.Empty(t, *freed)

	require.ErrorIs(t, h.Bind(&fakeResource{}), ErrResourceNotBound)
	require.ErrorIs(t, h.Acquire(func() (*fakeResource, error) { return &fakeResource{}, nil }), ErrResourceNotBound)
	require.Empty(t, *freed)
}

func TestHandleCleanupFreesUnreachable(t *testing.T) {
	var freed atomic.Int32
	func() {
		h := NewHandle("fake", func(*fakeResource) error {
			freed.Add(1)
			return nil
		})
		require.NoError(t, h.Bind(&fakeResource{id: 1}))
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return freed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond, "unerreichbares Handle wurde nicht freigegeben")
}

func TestHandleReleaseError(t *testing.T) {
	boom := errors.New("boom")
	h := NewHandle("fake", func(*fakeResource) error { return boom })

	require.NoError(t, h.Bind(&fakeResource{}))
	require.ErrorIs(t, h.Release(), boom)
	require.Equal(t, Released, h.State())
	require.NoError(t, h.Release())
}
