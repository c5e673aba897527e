package proxy

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// handleConnect handles HTTPS CONNECT requests. With a CA the TLS session is
// terminated locally so the engine sees each request; otherwise the
// connection is tunneled untouched.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	log := p.logger.With(slog.String("host", host))

	if p.ca == nil || p.engine == nil || !p.filter.ShouldIntercept(hostname(host)) {
		log.Debug("CONNECT tunnel")
		p.tunnelConnect(w, host, log)
		return
	}

	clientConn, err := hijack(w)
	if err != nil {
		log.Error("hijacking connection", slog.Any("error", err))
		http.Error(w, "mockproxy: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		log.Debug("sending CONNECT response", slog.Any("error", err))
		_ = clientConn.Close()
		return
	}

	fallback := hostname(host)
	//nolint:gosec // G402: clients of a local proxy may use any TLS version
	tlsConfig := &tls.Config{
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = fallback
			}
			return p.ca.Certificate(name)
		},
	}
	tlsConn := tls.Server(clientConn, tlsConfig)
	_ = tlsConn.SetDeadline(time.Now().Add(p.timeout))
	if err := tlsConn.Handshake(); err != nil {
		log.Debug("TLS handshake with client failed", slog.Any("error", err))
		_ = clientConn.Close()
		return
	}
	_ = tlsConn.SetDeadline(time.Time{})

	log.Debug("CONNECT intercepted")
	p.serveTLS(tlsConn, host)
}

// serveTLS reads plaintext requests off an intercepted TLS connection and
// runs each through serve until the client closes it.
func (p *Proxy) serveTLS(conn *tls.Conn, authority string) {
	ln := newConnListener(conn)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = "https"
			if r.URL.Host == "" {
				r.URL.Host = r.Host
			}
			if r.URL.Host == "" {
				r.URL.Host = authority
			}
			p.serve(w, r, "https")
		}),
		ReadHeaderTimeout: p.timeout,
		ErrorLog:          slog.NewLogLogger(p.logger.Handler(), slog.LevelDebug),
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				_ = ln.Close()
			}
		},
	}
	_ = srv.Serve(ln)
}

// connListener is a net.Listener that yields a single connection and then
// blocks until closed.
type connListener struct {
	conn   net.Conn
	accept chan net.Conn
	done   chan struct{}
	close  sync.Once
}

func newConnListener(conn net.Conn) *connListener {
	l := &connListener{
		conn:   conn,
		accept: make(chan net.Conn, 1),
		done:   make(chan struct{}),
	}
	l.accept <- conn
	return l
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.close.Do(func() { close(l.done) })
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// tunnelConnect creates a direct TCP tunnel for HTTPS without MITM.
func (p *Proxy) tunnelConnect(w http.ResponseWriter, host string, log *slog.Logger) {
	targetConn, err := net.DialTimeout("tcp", host, p.timeout)
	if err != nil {
		log.Warn("connecting to target", slog.Any("error", err))
		w.Header().Set(HeaderError, "upstream")
		http.Error(w, "mockproxy: connecting to "+host+": "+err.Error(), http.StatusBadGateway)
		return
	}

	clientConn, err := hijack(w)
	if err != nil {
		log.Error("hijacking connection", slog.Any("error", err))
		_ = targetConn.Close()
		http.Error(w, "mockproxy: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		log.Debug("sending CONNECT response", slog.Any("error", err))
		_ = clientConn.Close()
		_ = targetConn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		_, _ = io.Copy(targetConn, clientConn)
		_ = targetConn.Close()
	})
	wg.Go(func() {
		_, _ = io.Copy(clientConn, targetConn)
		_ = clientConn.Close()
	})
	wg.Wait()
}

var errNoHijack = errors.New("server does not support hijacking")

func hijack(w http.ResponseWriter) (net.Conn, error) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, errNoHijack
	}
	conn, brw, err := hijacker.Hijack()
	if err != nil {
		return nil, err
	}
	if brw != nil && brw.Reader.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: brw.Reader}, nil
	}
	return conn, nil
}

// bufferedConn replays bytes the server read past the CONNECT request.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
