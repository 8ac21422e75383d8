// handlers.go - HTTP-Handler fuer Bundle-Verwaltung und Ausfuehrung
// Enthaelt: Load/Unload/Ps/Show/Run/Train/Export Handler und Tensor-Umwandlung

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tensorio/bridge/api"
	"github.com/tensorio/bridge/envconfig"
	"github.com/tensorio/bridge/ml"
	"github.com/tensorio/bridge/savedmodel"
)

// bindRequest liest den JSON-Body; ein leerer Body ist ein Client-Fehler
func bindRequest(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); errors.Is(err, io.EOF) {
		abortWithError(c, errMissingBody)
		return false
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// bundlePath loest relative Bundle-Pfade gegen TIO_MODELS auf
func bundlePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(envconfig.Models(), p)
}

// withNative fuehrt fn aus, sobald ein Platz fuer einen nativen Aufruf frei ist
func (s *Server) withNative(ctx context.Context, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	return fn()
}

// load laedt ein Bundle und registriert es
func (s *Server) load(ctx context.Context, path string, mode ml.Mode) (*loadedBundle, error) {
	if s.bundles.full() {
		return nil, fmt.Errorf("%w (max %d)", errTooManyBundles, s.bundles.max)
	}

	var b *savedmodel.Bundle
	if err := s.withNative(ctx, func() (err error) {
		b, err = savedmodel.Load(path, mode, savedmodel.WithEngine(s.engine))
		return err
	}); err != nil {
		return nil, err
	}

	lb, err := s.bundles.add(path, b)
	if err != nil {
		return nil, errors.Join(err, b.Close())
	}

	slog.Info("registered bundle", "id", lb.id, "bundle", path, "mode", mode)
	return lb, nil
}

func (s *Server) LoadHandler(c *gin.Context) {
	var req api.LoadRequest
	if !bindRequest(c, &req) {
		return
	}

	if req.Bundle == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bundle is required"})
		return
	}

	lb, err := s.load(c.Request.Context(), bundlePath(req.Bundle), req.Mode)
	if err != nil {
		abortWithError(c, err)
		return
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	c.JSON(http.StatusOK, lb.info())
}

func (s *Server) UnloadHandler(c *gin.Context) {
	var req api.UnloadRequest
	if !bindRequest(c, &req) {
		return
	}

	lb, err := s.bundles.remove(req.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := lb.close(); err != nil {
		abortWithError(c, err)
		return
	}

	slog.Info("unloaded bundle", "id", lb.id, "bundle", lb.path)
	c.Status(http.StatusOK)
}

func (s *Server) PsHandler(c *gin.Context) {
	resp := api.ProcessResponse{Bundles: []api.BundleInfo{}}
	for _, lb := range s.bundles.list() {
		lb.mu.Lock()
		if lb.bundle.State() == ml.Bound {
			resp.Bundles = append(resp.Bundles, lb.info())
		}
		lb.mu.Unlock()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ShowHandler(c *gin.Context) {
	var req api.ShowRequest
	if !bindRequest(c, &req) {
		return
	}

	lb, err := s.bundles.get(req.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	c.JSON(http.StatusOK, lb.info())
}

func (s *Server) RunHandler(c *gin.Context) {
	var req api.RunRequest
	if !bindRequest(c, &req) {
		return
	}

	outputs, err := s.execute(c.Request.Context(), req.ID, req.Inputs, req.Outputs, func(b *savedmodel.Bundle, in, out []*savedmodel.Tensor) error {
		return b.Run(in, out)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.RunResponse{Outputs: outputs.tensors, Duration: outputs.duration})
}

func (s *Server) TrainHandler(c *gin.Context) {
	var req api.TrainRequest
	if !bindRequest(c, &req) {
		return
	}

	outputs, err := s.execute(c.Request.Context(), req.ID, req.Inputs, req.Outputs, func(b *savedmodel.Bundle, in, out []*savedmodel.Tensor) error {
		return b.Train(in, out, req.Ops)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.TrainResponse{Outputs: outputs.tensors, Steps: outputs.steps, Duration: outputs.duration})
}

func (s *Server) ExportHandler(c *gin.Context) {
	var req api.ExportRequest
	if !bindRequest(c, &req) {
		return
	}

	if req.Dir == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "dir is required"})
		return
	}

	lb, err := s.bundles.get(req.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := s.withNative(c.Request.Context(), func() error {
		return lb.bundle.Export(req.Dir)
	}); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ExportResponse{Files: []string{
		filepath.Join(req.Dir, savedmodel.CheckpointIndex),
		filepath.Join(req.Dir, savedmodel.CheckpointData),
	}})
}

// =============================================================================
// Ausfuehrung
// =============================================================================

type result struct {
	tensors  []api.Tensor
	steps    int
	duration time.Duration
}

// execute baut Deskriptoren aus den Wire-Tensoren, fuehrt fn unter dem
// Bundle-Lock aus und liest die Ausgaben zurueck. Alle Deskriptoren werden
// vor der Rueckkehr freigegeben.
func (s *Server) execute(ctx context.Context, id string, inputs, outputs []api.Tensor, fn func(*savedmodel.Bundle, []*savedmodel.Tensor, []*savedmodel.Tensor) error) (*result, error) {
	lb, err := s.bundles.get(id)
	if err != nil {
		return nil, err
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	b := lb.bundle
	var owned []*savedmodel.Tensor
	defer func() {
		for _, t := range owned {
			t.Close()
		}
	}()

	in := make([]*savedmodel.Tensor, len(inputs))
	for i, w := range inputs {
		t, err := savedmodel.NewTensorFrom(w.DType, w.Shape, w.Name, w.Data, savedmodel.WithEngine(b.Engine()))
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", w.Name, err)
		}
		owned = append(owned, t)
		in[i] = t
	}

	out := make([]*savedmodel.Tensor, len(outputs))
	for i, w := range outputs {
		t, err := b.NewTensor(w.DType, w.Shape, w.Name)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", w.Name, err)
		}
		owned = append(owned, t)
		out[i] = t
	}

	start := time.Now()
	if err := s.withNative(ctx, func() error { return fn(b, in, out) }); err != nil {
		return nil, err
	}
	lb.calls++

	r := result{
		tensors:  make([]api.Tensor, len(out)),
		steps:    b.Steps(),
		duration: time.Since(start),
	}
	for i, t := range out {
		data, err := t.Bytes()
		if err != nil {
			return nil, err
		}
		r.tensors[i] = api.Tensor{Name: t.Name(), DType: t.DType(), Shape: t.Shape(), Data: data}
	}

	slog.Debug("executed bundle", "id", id, "inputs", len(in), "outputs", len(out), "duration", r.duration)
	return &r, nil
}
