// registry.go - Verwaltung der geladenen Bundles
//
// Diese Datei enthaelt:
// - loadedBundle: ein geladenes Bundle mit eigenem Lock und Zaehlern
// - registry: id -> loadedBundle, begrenzt durch TIO_MAX_BUNDLES
package server

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tensorio/bridge/api"
	"github.com/tensorio/bridge/savedmodel"
)

// loadedBundle ist ein Bundle im Server. mu serialisiert alle Aufrufe auf das
// Bundle, da Bundles selbst nicht thread-safe sind.
type loadedBundle struct {
	mu sync.Mutex

	id       string
	path     string
	bundle   *savedmodel.Bundle
	loadedAt time.Time

	// calls zaehlt erfolgreiche Run- und Train-Aufrufe, geschuetzt durch mu
	calls int
}

// info baut die API-Beschreibung. Aufrufer muss mu halten.
func (lb *loadedBundle) info() api.BundleInfo {
	b := lb.bundle
	return api.BundleInfo{
		ID:       lb.id,
		Bundle:   lb.path,
		Mode:     b.Mode(),
		Engine:   b.Engine().Name(),
		Inputs:   b.Inputs(),
		Outputs:  b.Outputs(),
		Targets:  b.Targets(),
		Steps:    b.Steps(),
		Calls:    lb.calls,
		LoadedAt: lb.loadedAt,
	}
}

// close entlaedt das Bundle, wartet dabei auf laufende Aufrufe
func (lb *loadedBundle) close() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.bundle.Close()
}

type registry struct {
	mu     sync.Mutex
	loaded map[string]*loadedBundle

	// max ist die maximale Anzahl Bundles, 0 = unbegrenzt
	max int
}

func newRegistry(max int) *registry {
	return &registry{loaded: make(map[string]*loadedBundle), max: max}
}

// full prueft vor dem Laden, ob noch Platz ist
func (r *registry) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.max > 0 && len(r.loaded) >= r.max
}

// add registriert ein geladenes Bundle unter einer neuen id. Ist die Grenze
// inzwischen erreicht, bleibt das Bundle beim Aufrufer.
func (r *registry) add(path string, b *savedmodel.Bundle) (*loadedBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.loaded) >= r.max {
		return nil, fmt.Errorf("%w (max %d)", errTooManyBundles, r.max)
	}

	lb := &loadedBundle{
		id:       uuid.NewString(),
		path:     path,
		bundle:   b,
		loadedAt: time.Now(),
	}
	r.loaded[lb.id] = lb
	return lb, nil
}

func (r *registry) get(id string) (*loadedBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lb, ok := r.loaded[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errBundleNotFound, id)
	}
	return lb, nil
}

// remove nimmt das Bundle aus der Registry; entladen muss der Aufrufer
func (r *registry) remove(id string) (*loadedBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lb, ok := r.loaded[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errBundleNotFound, id)
	}
	delete(r.loaded, id)
	return lb, nil
}

// list gibt alle Bundles in Ladereihenfolge zurueck
func (r *registry) list() []*loadedBundle {
	r.mu.Lock()
	lbs := make([]*loadedBundle, 0, len(r.loaded))
	for _, lb := range r.loaded {
		lbs = append(lbs, lb)
	}
	r.mu.Unlock()

	slices.SortFunc(lbs, func(a, b *loadedBundle) int {
		if c := a.loadedAt.Compare(b.loadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return lbs
}

// unloadAll entlaedt alle Bundles, z.B. beim Herunterfahren
func (r *registry) unloadAll() {
	r.mu.Lock()
	lbs := r.loaded
	r.loaded = make(map[string]*loadedBundle)
	r.mu.Unlock()

	for id, lb := range lbs {
		if err := lb.close(); err != nil {
			slog.Warn("failed to unload bundle", "id", id, "bundle", lb.path, "error", err)
			continue
		}
		slog.Info("unloaded bundle", "id", id, "bundle", lb.path)
	}
}
