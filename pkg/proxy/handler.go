package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/mockproxy/pkg/engine"
)

// handleHTTP handles absolute-form proxy requests.
func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	p.serve(w, r, "http")
}

// serve decides and answers one request. scheme applies to origin-form
// requests read from an intercepted TLS connection.
func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, scheme string) {
	start := time.Now()
	target := ResolveURL(r, scheme)
	log := p.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("method", r.Method),
		slog.String("url", target),
	)

	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	if p.engine == nil || !p.filter.ShouldIntercept(hostname(host)) {
		log.Debug("passthrough")
		p.forward(w, r, target, log, start)
		return
	}

	decision, err := p.engine.Decide(r.Context(), engine.Request{Method: r.Method, URL: target})
	switch decision.Outcome {
	case engine.OutcomeRespond:
		p.writeMock(w, decision.Response)
		log.Info("mocked",
			slog.Int("rule", decision.Rule.Index),
			slog.Int("status", decision.Response.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)
	case engine.OutcomeError:
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			log.Debug("client went away during decision")
			return
		}
		writeDecisionError(w, err)
		log.Warn("decision failed",
			slog.String("kind", engine.ErrorKind(err)),
			slog.Any("error", err),
		)
	default:
		p.forward(w, r, target, log, start)
	}
}

// writeMock writes a mock response verbatim: its status, its headers and the
// canonical body. Only Content-Length is added.
func (p *Proxy) writeMock(w http.ResponseWriter, resp *engine.Response) {
	h := w.Header()
	maps.Copy(h, resp.Header())
	if h.Get("Content-Type") == "" {
		// Keep net/http from sniffing one.
		h["Content-Type"] = nil
	}
	if !bodyAllowed(resp.StatusCode) {
		w.WriteHeader(resp.StatusCode)
		return
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func bodyAllowed(status int) bool {
	return status != http.StatusNoContent && status != http.StatusNotModified
}

func writeDecisionError(w http.ResponseWriter, err error) {
	w.Header().Set(HeaderError, engine.ErrorKind(err))
	http.Error(w, "mockproxy: "+err.Error(), http.StatusBadGateway)
}

// forward sends the request to its real destination and streams the answer back.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, target string, log *slog.Logger, start time.Time) {
	resp, err := p.forwardRequest(r, target)
	if err != nil {
		if r.Context().Err() != nil {
			log.Debug("client went away during forward")
			return
		}
		log.Warn("forward failed", slog.Any("error", err))
		w.Header().Set(HeaderError, "upstream")
		http.Error(w, "mockproxy: forwarding request: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopByHopHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	n, err := io.Copy(flushWriter{w}, resp.Body)
	if err != nil {
		log.Debug("copying upstream body", slog.Any("error", err))
	}

	log.Info("forwarded",
		slog.Int("status", resp.StatusCode),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)),
	)
}

// forwardRequest builds the outgoing request for target and sends it.
func (p *Proxy) forwardRequest(r *http.Request, target string) (*http.Response, error) {
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		return nil, err
	}
	outReq.ContentLength = r.ContentLength
	outReq.Host = r.Host

	copyHeaders(outReq.Header, r.Header)
	removeHopByHopHeaders(outReq.Header)
	if _, ok := outReq.Header["User-Agent"]; !ok {
		// Without this net/http adds its own.
		outReq.Header.Set("User-Agent", "")
	}

	return p.client.Do(outReq)
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHopHeaders removes headers that apply to a single connection,
// including any named in Connection.
func removeHopByHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				h.Del(token)
			}
		}
	}
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}

// flushWriter flushes after every write so streamed upstream bodies reach the
// client as they arrive.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(b []byte) (int, error) {
	n, err := f.w.Write(b)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
