// errors.go - Fehler des Servers und Abbildung auf HTTP-Status-Codes
// Enthaelt: errBundleNotFound, errTooManyBundles, statusFor(), abortWithError()

package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tensorio/bridge/ml"
)

var (
	errBundleNotFound = errors.New("bundle not found")
	errTooManyBundles = errors.New("too many bundles loaded")
	errMissingBody    = errors.New("missing request body")
)

// statusFor bildet einen Bridge-Fehler auf einen HTTP-Status ab
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBundleNotFound):
		return http.StatusNotFound
	case errors.Is(err, errTooManyBundles):
		return http.StatusServiceUnavailable
	case errors.Is(err, ml.ErrInvalidMode):
		return http.StatusConflict
	case errors.Is(err, ml.ErrResourceNotBound):
		return http.StatusGone
	case errors.Is(err, ml.ErrNativeLoad):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ml.ErrBundleLoad),
		errors.Is(err, ml.ErrSizeMismatch),
		errors.Is(err, ml.ErrShapeMismatch),
		errors.Is(err, ml.ErrUnknownTensorName),
		errors.Is(err, ml.ErrInvalidShape),
		errors.Is(err, ml.ErrUnsupportedDType),
		errors.Is(err, ml.ErrEngineMismatch),
		errors.Is(err, errMissingBody),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, ml.ErrNotDirectory):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError beendet die Anfrage mit {"error": msg}
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
