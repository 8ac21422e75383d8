//go:build !onnx || !cgo

// MODUL: onnx/stub
// ZWECK: Platzhalter ohne onnx-Build-Tag oder ohne CGO
// HINWEISE: Registriert keine Engine, TIO_ENGINE=onnx schlaegt dann beim
// Erstellen der Engine fehl

package onnx
