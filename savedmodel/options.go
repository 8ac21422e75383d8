// options.go - Optionen fuer Load und NewTensor

package savedmodel

import "github.com/tensorio/bridge/ml"

type options struct {
	engine ml.Engine
}

// Option konfiguriert Load und NewTensor
type Option func(*options)

// WithEngine verwendet e statt der Prozess-Engine (TIO_ENGINE)
func WithEngine(e ml.Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
