// backend.go - Registriert alle einkompilierten Native Engines
// Import mit _ "github.com/tensorio/bridge/ml/backend"

package backend

import (
	_ "github.com/tensorio/bridge/ml/backend/onnx"
	_ "github.com/tensorio/bridge/ml/backend/reference"
)
