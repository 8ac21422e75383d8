// types.go - API-Typen fuer Requests und Responses
// Enthaelt: StatusError, Tensor, Load/Unload/Show/Run/Train/Export-Typen
package api

import (
	"fmt"
	"time"

	"github.com/tensorio/bridge/ml"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the tensorio server logs for details"
	}
}

// Tensor is a named tensor on the wire. Data holds the raw bytes in the
// server's native byte order and is base64 encoded in JSON. Output requests
// leave Data empty.
type Tensor struct {
	Name  string   `json:"name"`
	DType ml.DType `json:"dtype"`
	Shape []int    `json:"shape"`
	Data  []byte   `json:"data,omitempty"`
}

// LoadRequest is the request passed to [Client.Load]. A relative Bundle path
// is resolved against TIO_MODELS on the server.
type LoadRequest struct {
	Bundle string  `json:"bundle"`
	Mode   ml.Mode `json:"mode"`
}

// UnloadRequest is the request passed to [Client.Unload].
type UnloadRequest struct {
	ID string `json:"id"`
}

// ShowRequest is the request passed to [Client.Show].
type ShowRequest struct {
	ID string `json:"id"`
}

// BundleInfo describes a loaded bundle.
type BundleInfo struct {
	ID       string          `json:"id"`
	Bundle   string          `json:"bundle"`
	Mode     ml.Mode         `json:"mode"`
	Engine   string          `json:"engine"`
	Inputs   []ml.TensorInfo `json:"inputs"`
	Outputs  []ml.TensorInfo `json:"outputs"`
	Targets  []string        `json:"targets,omitempty"`
	Steps    int             `json:"steps"`
	Calls    int             `json:"calls"`
	LoadedAt time.Time       `json:"loaded_at"`
}

// ProcessResponse is the response from [Client.ListRunning].
type ProcessResponse struct {
	Bundles []BundleInfo `json:"bundles"`
}

// RunRequest is the request passed to [Client.Run].
type RunRequest struct {
	ID      string   `json:"id"`
	Inputs  []Tensor `json:"inputs"`
	Outputs []Tensor `json:"outputs"`
}

// RunResponse is the response from [Client.Run].
type RunResponse struct {
	Outputs  []Tensor      `json:"outputs"`
	Duration time.Duration `json:"duration"`
}

// TrainRequest is the request passed to [Client.Train].
type TrainRequest struct {
	ID      string   `json:"id"`
	Inputs  []Tensor `json:"inputs"`
	Outputs []Tensor `json:"outputs"`
	Ops     []string `json:"ops"`
}

// TrainResponse is the response from [Client.Train].
type TrainResponse struct {
	Outputs  []Tensor      `json:"outputs"`
	Steps    int           `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// ExportRequest is the request passed to [Client.Export].
type ExportRequest struct {
	ID  string `json:"id"`
	Dir string `json:"dir"`
}

// ExportResponse lists the files written by an export.
type ExportResponse struct {
	Files []string `json:"files"`
}
