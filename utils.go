package devproxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-zoox/compress/flate"
	"github.com/go-zoox/compress/gzip"
	"github.com/go-zoox/logger"
	"golang.org/x/net/http/httpguts"
)

// BufferPool optionally recycles byte slices used for copying response bodies.
type BufferPool interface {
	Get() []byte
	Put([]byte)
}

// Hop-by-hop headers. These are removed when sent to the backend.
// As of RFC 7230, hop-by-hop headers are required to appear in the
// Connection header field. These are the headers defined by the
// obsoleted RFC 2616 (section 13.5.1) and are used for backward
// compatibility.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection", // non-standard but still sent by libcurl and rejected by e.g. google
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",      // canonicalized version of "TE"
	"Trailer", // not Trailers per URL above; https://www.rfc-editor.org/errata_search.php?eid=4522
	"Transfer-Encoding",
	"Upgrade",
	"Strict-Transport-Security", // HSTS
}

func upgradeType(h http.Header) string {
	if strings.ToLower(h.Get("Connection")) != "upgrade" {
		return ""
	}

	return strings.ToLower(h.Get("Upgrade"))
}

func cleanRequestHeaders(h http.Header, inReq *http.Request) {
	removeConnectionHeaders(h)
	removeHopHeaders(h)

	// Issue 21096: tell backend applications that care about trailer support
	// that we support trailers. (We do, but we don't go out of our way to
	// advertise that unless the incoming client request thought it was worth
	// mentioning.) Look at the inbound headers; the outbound ones just lost
	// their Te.
	if httpguts.HeaderValuesContainsToken(inReq.Header["Te"], "trailers") {
		h.Set("Te", "trailers")
	}
}

func addRequestHeaders(h http.Header, inReq *http.Request, anonymous bool) {
	if anonymous {
		return
	}

	h.Set("X-Real-Ip", inReq.RemoteAddr)

	host, port := ParseHostPort(inReq.Host)
	scheme := inReq.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}

	h.Set(HeaderXForwardedProto, scheme)
	h.Set(HeaderXForwardedHost, host)
	h.Set(HeaderXForwardedPort, port)
}

func restoreUpgradeHeaders(h http.Header, upgrade string) {
	// After stripping all the hop-by-hop connection headers above, add back
	// any necessary for protocol upgrades, such as for websockets.
	if upgrade != "" {
		h.Set("Connection", "Upgrade")
		h.Set("Upgrade", upgrade)
	}
}

func appendXForwardedFor(h http.Header, inReq *http.Request, anonymous bool) {
	if anonymous {
		return
	}

	if clientIP, _, err := net.SplitHostPort(inReq.RemoteAddr); err == nil {
		// If we aren't the first proxy retain prior X-Forwarded-For
		// information as a comma+space separated list and fold multiple
		// headers into one.
		prior, ok := inReq.Header[HeaderXForwardedFor]
		omit := ok && prior == nil // Issue 38079: nil now means don't populate the header
		if len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		if !omit {
			h.Set(HeaderXForwardedFor, clientIP)
		}
	}
}

func cleanResponseHeaders(h http.Header) {
	removeConnectionHeaders(h)
	removeHopHeaders(h)
}

// reconcileContentFraming drops a fixed Content-Length when a response hook
// forced chunked framing. A response must never carry both, and with an
// unknown length the body is flushed to the client as it arrives.
func reconcileContentFraming(res *http.Response) {
	if strings.EqualFold(res.Header.Get("Content-Encoding"), "chunked") {
		res.Header.Del("Content-Length")
		res.ContentLength = -1
		return
	}

	if res.Header.Get("Content-Length") == "" && res.ContentLength > 0 {
		// a hook deleted the announced length; stream instead of letting
		// net/http re-announce it
		res.ContentLength = -1
	}
}

func relayResponseTrailers(rw http.ResponseWriter, response *http.Response, announcedTrailers int) {
	if len(response.Trailer) == announcedTrailers {
		copyHeaders(rw.Header(), response.Trailer)
		return
	}

	for k, vv := range response.Trailer {
		k = http.TrailerPrefix + k
		for _, v := range vv {
			rw.Header().Add(k, v)
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func removeHopHeaders(h http.Header) {
	for _, header := range hopHeaders {
		h.Del(header)
	}
}

func removeConnectionHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
}

func copyBuffer(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}

			if rerr != context.Canceled {
				logger.Errorf("[devproxy] read from upstream: %s", rerr)
			}

			return written, rerr
		}
	}
}

var inOurTests bool // whether we're in our own tests

func shouldPanicOnCopyError(req *http.Request) bool {
	if inOurTests {
		// Our tests know to handle this panic.
		return true
	}

	if req.Context().Value(http.ServerContextKey) != nil {
		// We seem to be running under an HTTP server, so it'll recover the
		// panic.
		return true
	}

	// Otherwise act like Go 1.10 and earlier to not break existing callers.
	return false
}

func defaultOnError(err error, rw http.ResponseWriter, req *http.Request) {
	status := http.StatusInternalServerError
	message := err.Error()

	if errX, ok := err.(*HTTPError); ok {
		status = errX.Status()
		message = http.StatusText(status)
	}

	logger.Errorf("[devproxy] %s %s: %s (%d)", req.Method, req.URL.String(), err, status)

	rw.WriteHeader(status)
	_, _ = rw.Write([]byte(message))
}

// ParseHostPort parses host and port from a string in the form host[:port].
func ParseHostPort(rawHost string) (string, string) {
	host, port, err := net.SplitHostPort(rawHost)
	if err != nil {
		host = rawHost
		port = ""
	}

	if port == "" {
		port = "80"
	}

	return host, port
}

// switchProtocolCopier exists so goroutines proxying data back and
// forth have nice names in stacks.
type switchProtocolCopier struct {
	user, backend io.ReadWriter
}

func (c switchProtocolCopier) copyFromBackend(errc chan<- error) {
	_, err := io.Copy(c.user, c.backend)
	errc <- err
}

func (c switchProtocolCopier) copyToBackend(errc chan<- error) {
	_, err := io.Copy(c.backend, c.user)
	errc <- err
}

type writeFlusher interface {
	io.Writer
	http.Flusher
}

type maxLatencyWriter struct {
	dst     writeFlusher
	latency time.Duration // non-zero; negative means to flush immediately

	mu           sync.Mutex // protects t, flushPending, and dst.Flush
	t            *time.Timer
	flushPending bool
}

func (m *maxLatencyWriter) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err = m.dst.Write(p)
	if m.latency < 0 {
		m.dst.Flush()
		return
	}

	if m.flushPending {
		return
	}

	if m.t == nil {
		m.t = time.AfterFunc(m.latency, m.delayedFlush)
	} else {
		m.t.Reset(m.latency)
	}

	m.flushPending = true
	return
}

func (m *maxLatencyWriter) delayedFlush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.flushPending { // if stop was called but AfterFunc already started this goroutine
		return
	}

	m.dst.Flush()
	m.flushPending = false
}

func (m *maxLatencyWriter) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushPending = false
	if m.t != nil {
		m.t.Stop()
	}
}

// RewriteBody buffers and transforms a response body, transparently handling
// gzip and deflate content encodings, and fixes Content-Length afterwards.
// It trades the streaming guarantee for the transform, so it is strictly
// opt-in for custom OnResponse hooks.
func RewriteBody(res *http.Response, rewrite func([]byte) ([]byte, error)) error {
	encoding := res.Header.Get("Content-Encoding")
	switch encoding {
	case "", "gzip", "deflate":
	default:
		return fmt.Errorf("unsupported content encoding: %s", encoding)
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if err := res.Body.Close(); err != nil {
		return err
	}

	switch encoding {
	case "gzip":
		g := gzip.New()
		decoded, err := g.Decompress(b)
		if err != nil {
			return err
		}
		if decoded, err = rewrite(decoded); err != nil {
			return err
		}
		b = g.Compress(decoded)
	case "deflate":
		d := flate.New()
		decoded, err := d.Decompress(b)
		if err != nil {
			return err
		}
		if decoded, err = rewrite(decoded); err != nil {
			return err
		}
		b = d.Compress(decoded)
	default:
		if b, err = rewrite(b); err != nil {
			return err
		}
	}

	res.Body = io.NopCloser(bytes.NewReader(b))
	res.ContentLength = int64(len(b))
	res.Header.Set("Content-Length", strconv.Itoa(len(b)))
	return nil
}
