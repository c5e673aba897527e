package engine

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getmockd/mockproxy/pkg/mock"
	"github.com/getmockd/mockproxy/pkg/rules"
)

// Request is what the engine needs from an intercepted request.
type Request struct {
	// Method is the HTTP method token as sent by the client.
	Method string
	// URL is the fully-resolved URL, e.g. "https://api.example.com/users/42?full=1".
	URL string
}

// Outcome is the kind of decision reached for a request.
type Outcome int

const (
	// OutcomeNoMatch means no rule matched: forward the request unmodified.
	OutcomeNoMatch Outcome = iota
	// OutcomeRespond means a rule matched: write Decision.Response instead of forwarding.
	OutcomeRespond
	// OutcomeError means the decision failed: fail the request, do not forward.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoMatch:
		return "no-match"
	case OutcomeRespond:
		return "respond"
	case OutcomeError:
		return "error"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Response is the mock response to write back to the client verbatim.
type Response struct {
	StatusCode int
	Headers    map[string]string
	// Body is the canonical JSON text of the mock body.
	Body string
	// Delay is the latency that was applied before the decision returned.
	Delay time.Duration
}

// Header returns the headers as an http.Header.
func (r *Response) Header() http.Header {
	h := make(http.Header, len(r.Headers))
	for name, value := range r.Headers {
		h.Set(name, value)
	}
	return h
}

// Decision is the result of Decide.
type Decision struct {
	Outcome Outcome
	// Rule is the matched rule; nil for OutcomeNoMatch and rule-load failures.
	Rule *rules.Rule
	// Response is set for OutcomeRespond.
	Response *Response
	// Err is set for OutcomeError.
	Err error
}

// Error kinds reported to clients when a decision fails.
const (
	KindConfigLoad = "config-load"
	KindMockLoad   = "mock-load"
	KindCanceled   = "canceled"
	KindInternal   = "internal"
)

// ErrorKind classifies a decision error.
func ErrorKind(err error) string {
	var cerr *rules.ConfigLoadError
	var merr *mock.LoadError
	switch {
	case errors.As(err, &cerr):
		return KindConfigLoad
	case errors.As(err, &merr):
		return KindMockLoad
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
