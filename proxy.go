package devproxy

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-zoox/devproxy/utils/ascii"
	"github.com/go-zoox/logger"
)

// Proxy is the forwarding engine. It relays one inbound request to an
// upstream origin, streaming the request and response bodies end to end, and
// exposes hooks around the exchange. Route matching lives in Router; Proxy
// only forwards.
type Proxy struct {
	// OnRequest is called with the outbound request after it has been cloned
	// from the inbound one and before it is sent. It must set outReq.URL to
	// the upstream origin.
	OnRequest func(outReq, inReq *http.Request) error

	// OnResponse is called exactly once per forwarded request, after the
	// upstream response headers arrive and before any body byte is relayed.
	// It may mutate headers, never the body.
	OnResponse func(res *http.Response, inReq *http.Request) error

	// OnError is called when forwarding fails. Defaults to a handler that
	// writes a gateway-error status.
	OnError func(err error, rw http.ResponseWriter, req *http.Request)

	// Transport executes the outbound request. Defaults to
	// http.DefaultTransport, which pools connections per upstream origin.
	Transport http.RoundTripper

	// Anonymous suppresses the X-Real-Ip and X-Forwarded-* request headers.
	Anonymous bool

	bufferPool BufferPool
}

// Config is the configuration for the Proxy.
type Config struct {
	// OnRequest is a function that will be called before the request is sent.
	OnRequest func(outReq, inReq *http.Request) error

	// OnResponse is a function that will be called after the response headers
	// are received and before the body is relayed.
	OnResponse func(res *http.Response, inReq *http.Request) error

	// OnError is a function that will be called when an error occurs.
	OnError func(err error, rw http.ResponseWriter, req *http.Request)

	// Transport overrides http.DefaultTransport for outbound requests.
	Transport http.RoundTripper

	// Anonymous is a flag to indicate whether the proxy is anonymous,
	//	which means the proxy will not add headers:
	//		X-Real-Ip
	//		X-Forwarded-For
	//		X-Forwarded-Proto
	//		X-Forwarded-Host
	//		X-Forwarded-Port
	// Default is false.
	Anonymous bool
}

// New creates a new Proxy.
func New(cfg *Config) *Proxy {
	onError := cfg.OnError
	if onError == nil {
		onError = defaultOnError
	}

	return &Proxy{
		OnRequest:  cfg.OnRequest,
		OnResponse: cfg.OnResponse,
		OnError:    onError,
		Transport:  cfg.Transport,
		Anonymous:  cfg.Anonymous,
	}
}

// ServeHTTP is the entry point for the proxy.
func (p *Proxy) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	reqContext := req.Context()

	// If the client goes away, cancel the outbound request promptly so no
	// orphaned forwarding is left behind.
	if cn, ok := rw.(http.CloseNotifier); ok {
		var cancel context.CancelFunc
		reqContext, cancel = context.WithCancel(reqContext)
		defer cancel()

		notify := cn.CloseNotify()
		go func() {
			select {
			case <-notify:
				cancel()
			case <-reqContext.Done():
			}
		}()
	}

	outReq, err := p.createRequest(reqContext, req)
	if err != nil {
		p.OnError(err, rw, req)
		return
	}
	if outReq.Body != nil {
		// Reading from the request body after returning from a handler is not
		// allowed, and the RoundTrip goroutine that reads the Body can outlive
		// this handler. Although calling Close doesn't guarantee there isn't
		// any Read in flight after the handle returns, in practice it's safe
		// to read after closing it.
		defer outReq.Body.Close()
	}

	response, err := p.roundTrip(outReq)
	if err != nil {
		p.OnError(err, rw, outReq)
		return
	}

	// Deal with 101 Switching Protocols responses: WebSocket, h2c, etc.
	if response.StatusCode == http.StatusSwitchingProtocols {
		if !p.modifyResponse(rw, response, outReq) {
			return
		}

		p.handleUpgrade(rw, outReq, response)
		return
	}

	cleanResponseHeaders(response.Header)

	if !p.modifyResponse(rw, response, outReq) {
		return
	}

	copyHeaders(rw.Header(), response.Header)

	// The "Trailer" header isn't included in the Transport's response, at
	// least for *http.Transport. Build it up from Trailer.
	announcedTrailers := len(response.Trailer)
	if announcedTrailers > 0 {
		trailerKeys := make([]string, 0, len(response.Trailer))
		for k := range response.Trailer {
			trailerKeys = append(trailerKeys, k)
		}
		rw.Header().Add("Trailer", strings.Join(trailerKeys, ", "))
	}

	rw.WriteHeader(response.StatusCode)

	if err := p.copyResponse(rw, response.Body, p.flushInterval(response)); err != nil {
		defer response.Body.Close()

		// The response headers, and possibly part of the body, have already
		// been committed to the client. There is nothing to retract, so all
		// we can do is abort the client connection.
		if !shouldPanicOnCopyError(outReq) {
			logger.Errorf("[devproxy] upstream stream error: %s", err)
			return
		}

		panic(http.ErrAbortHandler)
	}

	response.Body.Close() // close now, instead of defer, to populate res.Trailer
	if len(response.Trailer) > 0 {
		// Force chunking if we saw a response trailer. This prevents net/http
		// from calculating the length for short bodies and adding a
		// Content-Length.
		if fl, ok := rw.(http.Flusher); ok {
			fl.Flush()
		}
	}

	relayResponseTrailers(rw, response, announcedTrailers)
}

// modifyResponse runs the OnResponse hook and reconciles the response framing
// afterwards: a hook that forces chunked framing must not leave a stale
// Content-Length behind.
func (p *Proxy) modifyResponse(rw http.ResponseWriter, res *http.Response, req *http.Request) bool {
	if p.OnResponse != nil {
		if err := p.OnResponse(res, req); err != nil {
			res.Body.Close()
			p.OnError(err, rw, req)
			return false
		}
	}

	reconcileContentFraming(res)

	return true
}

func (p *Proxy) copyResponse(dst io.Writer, src io.Reader, flushInterval time.Duration) error {
	if flushInterval != 0 {
		if wf, ok := dst.(writeFlusher); ok {
			mlw := &maxLatencyWriter{
				dst:     wf,
				latency: flushInterval,
			}
			defer mlw.stop()

			// set up initial timer so headers get flushed even if body writes
			// are delayed
			mlw.flushPending = true
			mlw.t = time.AfterFunc(flushInterval, mlw.delayedFlush)

			dst = mlw
		}
	}

	var buf []byte
	if p.bufferPool != nil {
		buf = p.bufferPool.Get()
		defer p.bufferPool.Put(buf)
	}
	_, err := copyBuffer(dst, src, buf)
	return err
}

func (p *Proxy) flushInterval(res *http.Response) time.Duration {
	resCT := res.Header.Get("content-type")

	// For Server-Sent Events responses, flush immediately. The MIME type is
	// defined in https://www.w3.org/TR/eventsource/#text-event-stream
	if baseCT, _, _ := mime.ParseMediaType(resCT); baseCT == "text/event-stream" {
		return -1 // negative means immediately
	}

	// We might have the case of streaming for which Content-Length might be
	// unset.
	if res.ContentLength == -1 {
		return -1
	}

	return 0
}

func (p *Proxy) handleUpgrade(rw http.ResponseWriter, req *http.Request, res *http.Response) {
	reqUpType := upgradeType(req.Header)
	resUpType := upgradeType(res.Header)
	if !ascii.IsPrint(resUpType) { // We know reqUpType is ASCII, it's checked by the caller.
		p.OnError(fmt.Errorf("backend tried to switch to invalid protocol %q", resUpType), rw, req)
		return
	}
	if !ascii.EqualFold(reqUpType, resUpType) {
		p.OnError(fmt.Errorf("backend tried to switch protocol %q when %q was requested", resUpType, reqUpType), rw, req)
		return
	}

	hj, ok := rw.(http.Hijacker)
	if !ok {
		p.OnError(fmt.Errorf("can't switch protocols using non-Hijacker ResponseWriter type %T", rw), rw, req)
		return
	}
	backConn, ok := res.Body.(io.ReadWriteCloser)
	if !ok {
		p.OnError(fmt.Errorf("internal error: 101 switching protocols response with non-writable body"), rw, req)
		return
	}

	backConnCloseCh := make(chan bool)
	go func() {
		// Ensure that the cancellation of a request closes the backend.
		// See issue https://golang.org/issue/35559.
		select {
		case <-req.Context().Done():
		case <-backConnCloseCh:
		}
		backConn.Close()
	}()

	defer close(backConnCloseCh)

	conn, brw, err := hj.Hijack()
	if err != nil {
		p.OnError(fmt.Errorf("hijack failed on protocol switch: %v", err), rw, req)
		return
	}
	defer conn.Close()

	copyHeaders(rw.Header(), res.Header)

	res.Header = rw.Header()
	res.Body = nil // so res.Write only writes the headers; we have res.Body in backConn above
	if err := res.Write(brw); err != nil {
		p.OnError(fmt.Errorf("response write: %v", err), rw, req)
		return
	}
	if err := brw.Flush(); err != nil {
		p.OnError(fmt.Errorf("response flush: %v", err), rw, req)
		return
	}
	errc := make(chan error, 1)
	spc := switchProtocolCopier{user: conn, backend: backConn}
	go spc.copyToBackend(errc)
	go spc.copyFromBackend(errc)
	<-errc
}
