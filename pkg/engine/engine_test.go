package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockproxy/pkg/mock"
	"github.com/getmockd/mockproxy/pkg/rules"
)

// countingProvider wraps a rules.Loader and counts underlying loads.
type countingProvider struct {
	loads  atomic.Int32
	loader *rules.Loader
}

func newCountingProvider(t *testing.T, list ...rules.Rule) *countingProvider {
	t.Helper()
	set, err := rules.New(list...)
	require.NoError(t, err)

	p := &countingProvider{}
	p.loader = rules.NewLoader(func() (*rules.RuleSet, error) {
		p.loads.Add(1)
		return set, nil
	})
	return p
}

func (p *countingProvider) RuleSet() (*rules.RuleSet, error) {
	return p.loader.RuleSet()
}

type failingProvider struct{ err error }

func (p failingProvider) RuleSet() (*rules.RuleSet, error) { return nil, p.err }

// recordSleeps captures requested delays without sleeping.
func recordSleeps(got *[]time.Duration) Sleeper {
	var mu sync.Mutex
	return func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*got = append(*got, d)
		return nil
	}
}

func pingEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/ping", Enabled: true, MockResponsePath: "m1"},
	)
	mocks := mock.NewMemoryReader(map[string]string{
		"m1": `{"code": 200, "headers": {}, "body": "pong", "delayMillis": 0}`,
	})
	return New(provider, mocks, opts...)
}

func TestDecide_PingScenario(t *testing.T) {
	e := pingEngine(t)
	ctx := context.Background()

	d, err := e.Decide(ctx, Request{Method: "GET", URL: "http://x/ping"})
	require.NoError(t, err)
	require.Equal(t, OutcomeRespond, d.Outcome)
	assert.Equal(t, 200, d.Response.StatusCode)
	assert.Empty(t, d.Response.Headers)
	assert.Equal(t, `"pong"`, d.Response.Body)
	assert.Equal(t, 0, d.Rule.Index)
	assert.Nil(t, d.Err)

	d, err = e.Decide(ctx, Request{Method: "POST", URL: "http://x/ping"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, d.Outcome)
	assert.Nil(t, d.Response)
	assert.Nil(t, d.Rule)

	d, err = e.Decide(ctx, Request{Method: "GET", URL: "http://x/other"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, d.Outcome)
}

func TestDecide_FirstMatchWins(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/other", Enabled: true, MockResponsePath: "other"},
		rules.Rule{Method: "GET", URLRegex: "/users", Enabled: true, MockResponsePath: "first"},
		rules.Rule{Method: "GET", URLRegex: `/users/\d+`, Enabled: true, MockResponsePath: "second"},
	)
	mocks := mock.NewMemoryReader(map[string]string{
		"first":  `{"code": 200, "headers": {}, "body": "first", "delayMillis": 0}`,
		"second": `{"code": 200, "headers": {}, "body": "second", "delayMillis": 0}`,
	})
	e := New(provider, mocks)

	for range 5 {
		d, err := e.Decide(context.Background(), Request{Method: "GET", URL: "https://api.example.com/users/7"})
		require.NoError(t, err)
		assert.Equal(t, `"first"`, d.Response.Body)
		assert.Equal(t, 1, d.Rule.Index)
	}
}

func TestDecide_LaterRulesNotRead(t *testing.T) {
	// The second rule's mock does not exist; it must never be touched.
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/a", Enabled: true, MockResponsePath: "ok"},
		rules.Rule{Method: "GET", URLRegex: "/a", Enabled: true, MockResponsePath: "missing"},
	)
	mocks := mock.NewMemoryReader(map[string]string{"ok": `{"code": 204, "headers": {}, "body": null, "delayMillis": 0}`})

	d, err := New(provider, mocks).Decide(context.Background(), Request{Method: "GET", URL: "http://h/a"})
	require.NoError(t, err)
	assert.Equal(t, 204, d.Response.StatusCode)
	assert.Equal(t, "null", d.Response.Body)
}

func TestDecide_DisabledNeverSelected(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/ping", Enabled: false, MockResponsePath: "off"},
		rules.Rule{Method: "GET", URLRegex: "/ping", Enabled: true, MockResponsePath: "on"},
	)
	mocks := mock.NewMemoryReader(map[string]string{
		"off": `{"code": 500, "headers": {}, "body": null, "delayMillis": 0}`,
		"on":  `{"code": 200, "headers": {}, "body": null, "delayMillis": 0}`,
	})

	d, err := New(provider, mocks).Decide(context.Background(), Request{Method: "GET", URL: "http://x/ping"})
	require.NoError(t, err)
	assert.Equal(t, 200, d.Response.StatusCode)

	onlyDisabled := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/ping", Enabled: false, MockResponsePath: "off"},
	)
	d, err = New(onlyDisabled, mocks).Decide(context.Background(), Request{Method: "GET", URL: "http://x/ping"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, d.Outcome)
}

func TestDecide_SubstringRegex(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: `/users/\d+`, Enabled: true, MockResponsePath: "user"},
	)
	mocks := mock.NewMemoryReader(map[string]string{"user": `{"code": 200, "headers": {}, "body": {"id": 42}, "delayMillis": 0}`})
	e := New(provider, mocks)

	d, err := e.Decide(context.Background(), Request{Method: "GET", URL: "https://api.example.com/users/42/profile"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRespond, d.Outcome)
	assert.Equal(t, `{"id": 42}`, d.Response.Body)
}

func TestDecide_MethodCaseSensitive(t *testing.T) {
	e := pingEngine(t)
	d, err := e.Decide(context.Background(), Request{Method: "get", URL: "http://x/ping"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, d.Outcome)
}

func TestDecide_Idempotent(t *testing.T) {
	e := pingEngine(t)
	req := Request{Method: "GET", URL: "http://x/ping"}

	first, err := e.Decide(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecide_RulesLoadedOnce(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/ping", Enabled: true, MockResponsePath: "m1"},
	)
	mocks := mock.NewMemoryReader(map[string]string{"m1": `{"code": 200, "headers": {}, "body": "pong", "delayMillis": 0}`})
	e := New(provider, mocks)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			url := "http://x/ping"
			if i%2 == 0 {
				url = "http://x/other"
			}
			_, err := e.Decide(context.Background(), Request{Method: "GET", URL: url})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), provider.loads.Load())
}

func TestDecide_MockReadFresh(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/ping", Enabled: true, MockResponsePath: "m1"},
	)
	mocks := mock.NewMemoryReader(map[string]string{"m1": `{"code": 200, "headers": {}, "body": "pong", "delayMillis": 0}`})
	e := New(provider, mocks)
	req := Request{Method: "GET", URL: "http://x/ping"}

	d, err := e.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, d.Response.StatusCode)

	mocks.Set("m1", `{"code": 418, "headers": {}, "body": "teapot", "delayMillis": 0}`)
	d, err = e.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 418, d.Response.StatusCode)
	assert.Equal(t, `"teapot"`, d.Response.Body)
}

func TestDecide_MockLoadErrorScopedToRequest(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/broken", Enabled: true, MockResponsePath: "nope"},
		rules.Rule{Method: "GET", URLRegex: "/ping", Enabled: true, MockResponsePath: "m1"},
	)
	mocks := mock.NewMemoryReader(map[string]string{"m1": `{"code": 200, "headers": {}, "body": "pong", "delayMillis": 0}`})
	e := New(provider, mocks)

	d, err := e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/broken"})
	require.Error(t, err)
	var lerr *mock.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "nope", lerr.Ref)
	assert.ErrorIs(t, err, mock.ErrNotFound)
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Equal(t, err, d.Err)
	assert.Equal(t, 0, d.Rule.Index)
	assert.Nil(t, d.Response)
	assert.Equal(t, KindMockLoad, ErrorKind(err))

	d, err = e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/ping"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRespond, d.Outcome)
}

func TestDecide_ConfigLoadError(t *testing.T) {
	loadErr := &rules.ConfigLoadError{Source: "matcher.json", Err: rules.ErrNotFound}
	e := New(failingProvider{err: loadErr}, mock.NewMemoryReader(nil))

	d, err := e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/ping"})
	assert.ErrorIs(t, err, rules.ErrNotFound)
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Nil(t, d.Rule)
	assert.Equal(t, KindConfigLoad, ErrorKind(err))
}

func TestDecide_ConfigLoadErrorPersists(t *testing.T) {
	var loads atomic.Int32
	loader := rules.NewLoader(func() (*rules.RuleSet, error) {
		loads.Add(1)
		return nil, errors.New("unreadable")
	})
	e := New(loader, mock.NewMemoryReader(nil))

	for range 3 {
		_, err := e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/"})
		assert.Equal(t, KindConfigLoad, ErrorKind(err))
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestDecide_DelayAppliedToEveryMatch(t *testing.T) {
	var sleeps []time.Duration
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/slow", Enabled: true, MockResponsePath: "slow"},
		rules.Rule{Method: "GET", URLRegex: "/fast", Enabled: true, MockResponsePath: "fast"},
	)
	mocks := mock.NewMemoryReader(map[string]string{
		"slow": `{"code": 200, "headers": {}, "body": null, "delayMillis": 1500}`,
		"fast": `{"code": 200, "headers": {}, "body": null, "delayMillis": 0}`,
	})
	e := New(provider, mocks, WithSleeper(recordSleeps(&sleeps)))

	d, err := e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/slow"})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d.Response.Delay)

	_, err = e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/fast"})
	require.NoError(t, err)

	_, err = e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/none"})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 0}, sleeps)
}

func TestDecide_OversizedDelayRejected(t *testing.T) {
	var sleeps []time.Duration
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/hang", Enabled: true, MockResponsePath: "hang"},
	)
	mocks := mock.NewMemoryReader(map[string]string{
		"hang": `{"code": 200, "headers": {}, "body": null, "delayMillis": 10000000000000}`,
	})
	e := New(provider, mocks, WithSleeper(recordSleeps(&sleeps)))

	d, err := e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/hang"})
	assert.ErrorIs(t, err, mock.ErrInvalidMock)
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Equal(t, KindMockLoad, ErrorKind(err))
	assert.Empty(t, sleeps)
}

func TestDecide_RealDelay(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/slow", Enabled: true, MockResponsePath: "slow"},
	)
	mocks := mock.NewMemoryReader(map[string]string{"slow": `{"code": 200, "headers": {}, "body": null, "delayMillis": 60}`})
	e := New(provider, mocks)

	start := time.Now()
	_, err := e.Decide(context.Background(), Request{Method: "GET", URL: "http://x/slow"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDecide_CancelDuringDelay(t *testing.T) {
	provider := newCountingProvider(t,
		rules.Rule{Method: "GET", URLRegex: "/hang", Enabled: true, MockResponsePath: "hang"},
	)
	mocks := mock.NewMemoryReader(map[string]string{"hang": `{"code": 200, "headers": {}, "body": null, "delayMillis": 60000}`})
	e := New(provider, mocks)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	d, err := e.Decide(ctx, Request{Method: "GET", URL: "http://x/hang"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Nil(t, d.Response)
	assert.Equal(t, KindCanceled, ErrorKind(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMatch(t *testing.T) {
	e := pingEngine(t)

	rule, err := e.Match(Request{Method: "GET", URL: "http://x/ping?x=1"})
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "m1", rule.MockResponsePath)

	rule, err = e.Match(Request{Method: "GET", URL: "http://x/pong"})
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), -time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Sleep(ctx, 0), "zero delay never waits, even when canceled")
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "no-match", OutcomeNoMatch.String())
	assert.Equal(t, "respond", OutcomeRespond.String())
	assert.Equal(t, "error", OutcomeError.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, KindInternal, ErrorKind(errors.New("x")))
	assert.Equal(t, KindCanceled, ErrorKind(context.DeadlineExceeded))
}

func TestResponseHeader(t *testing.T) {
	r := &Response{Headers: map[string]string{"x-mock": "1"}}
	assert.Equal(t, "1", r.Header().Get("X-Mock"))
}
