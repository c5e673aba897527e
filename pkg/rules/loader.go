package rules

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/mockproxy/pkg/logging"
)

// Loader loads a rule list at most once and shares the result.
//
// The first call to RuleSet runs the LoadFunc; concurrent first callers wait for
// that single load and all callers observe the same *RuleSet, or the same error.
// A failed load is not retried.
type Loader struct {
	load   func() (*RuleSet, error)
	logger *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger used to report the load.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader wraps fn so it runs at most once.
func NewLoader(fn LoadFunc, opts ...LoaderOption) *Loader {
	l := &Loader{logger: logging.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	l.load = sync.OnceValues(func() (*RuleSet, error) {
		start := time.Now()
		set, err := fn()
		if err != nil {
			var cerr *ConfigLoadError
			if !errors.As(err, &cerr) {
				err = &ConfigLoadError{Err: err}
			}
			l.logger.Error("rule load failed", "error", err)
			return nil, err
		}
		l.logger.Info("rules loaded",
			"source", set.Source(),
			"count", set.Len(),
			"duration", time.Since(start))
		return set, nil
	})
	return l
}

// Static returns a Loader that always yields set.
func Static(set *RuleSet) *Loader {
	return NewLoader(func() (*RuleSet, error) { return set, nil })
}

// RuleSet returns the rule list, loading it on first use.
func (l *Loader) RuleSet() (*RuleSet, error) {
	return l.load()
}
