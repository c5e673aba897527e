// Package engine decides, for each intercepted request, whether to answer with a
// mock response or let the request through to the real server.
//
// Rules are scanned in order. The first enabled rule whose method equals the
// request method and whose pattern is found anywhere in the request URL wins;
// later rules are not evaluated. The winning rule's mock response is read
// fresh, its body serialized, and its delay applied before the decision is
// returned.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/mock"
	"github.com/getmockd/mockproxy/pkg/rules"
)

// RuleProvider supplies the rule list. *rules.Loader implements it.
type RuleProvider interface {
	RuleSet() (*rules.RuleSet, error)
}

// Sleeper suspends the calling request for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine is the match-and-respond decision engine. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	rules  RuleProvider
	mocks  mock.Reader
	logger *slog.Logger
	sleep  Sleeper
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.OrNop(logger)
	}
}

// WithSleeper replaces the delay implementation.
func WithSleeper(sleep Sleeper) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New creates an Engine reading rules from provider and mock responses from mocks.
func New(provider RuleProvider, mocks mock.Reader, opts ...Option) *Engine {
	e := &Engine{
		rules:  provider,
		mocks:  mocks,
		logger: logging.Nop(),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match returns the first rule selecting req, or nil if none does. It reads no
// mock and applies no delay.
func (e *Engine) Match(req Request) (*rules.Rule, error) {
	set, err := e.rules.RuleSet()
	if err != nil {
		return nil, err
	}
	for i := 0; i < set.Len(); i++ {
		if rule := set.At(i); rule.Matches(req.Method, req.URL) {
			return rule, nil
		}
	}
	return nil, nil
}

// Decide runs the full decision for req.
//
// The returned error is non-nil exactly when the outcome is OutcomeError: a
// *rules.ConfigLoadError when the rule list cannot be loaded, a *mock.LoadError
// when the matched mock is missing or invalid, or the context error when ctx is
// canceled while the delay is pending. No error means the request should
// either be answered with Decision.Response or forwarded unmodified.
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, error) {
	rule, err := e.Match(req)
	if err != nil {
		return e.fail(req, nil, err)
	}
	if rule == nil {
		e.logger.Debug("no rule matched", "method", req.Method, "url", req.URL)
		return Decision{Outcome: OutcomeNoMatch}, nil
	}

	def, err := e.mocks.Read(ctx, rule.MockResponsePath)
	if err != nil {
		return e.fail(req, rule, err)
	}

	body, err := mock.Canonical(def.Body)
	if err != nil {
		return e.fail(req, rule, &mock.LoadError{
			Ref: rule.MockResponsePath,
			Err: fmt.Errorf("%w: body: %v", mock.ErrInvalidMock, err),
		})
	}

	delay := def.Delay()
	if err := e.sleep(ctx, delay); err != nil {
		return e.fail(req, rule, err)
	}

	e.logger.Debug("rule matched",
		"rule", rule.Index,
		"method", req.Method,
		"url", req.URL,
		"mock", rule.MockResponsePath,
		"status", def.Code,
		"delay", delay)

	return Decision{
		Outcome: OutcomeRespond,
		Rule:    rule,
		Response: &Response{
			StatusCode: def.Code,
			Headers:    def.Headers,
			Body:       body,
			Delay:      delay,
		},
	}, nil
}

func (e *Engine) fail(req Request, rule *rules.Rule, err error) (Decision, error) {
	attrs := []any{"method", req.Method, "url", req.URL, "error", err}
	if rule != nil {
		attrs = append(attrs, "rule", rule.Index)
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.logger.Debug("decision abandoned", attrs...)
	default:
		e.logger.Warn("decision failed", attrs...)
	}
	return Decision{Outcome: OutcomeError, Rule: rule, Err: err}, err
}

// Sleep waits for d unless ctx is done first. A non-positive d returns at once
// without starting a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
