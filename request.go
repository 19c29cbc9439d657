package devproxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-zoox/devproxy/utils/ascii"
	"github.com/go-zoox/headers"
)

// createRequest clones the inbound request into the outbound one: the body is
// shared (streamed through, never buffered), hop-by-hop headers are stripped
// and the forwarding headers are added.
func (p *Proxy) createRequest(ctx context.Context, inReq *http.Request) (*http.Request, error) {
	outReq := inReq.Clone(ctx)

	// Issue 16036: nil Body for http.Transport retries
	if inReq.ContentLength == 0 {
		outReq.Body = nil
	}

	// Issue 33142: historical behavior was to always allocate
	if outReq.Header == nil {
		outReq.Header = make(http.Header)
	}

	// Capture the upgrade type before the hop-by-hop headers carrying it are
	// stripped below.
	upgrade := upgradeType(inReq.Header)
	if !ascii.IsPrint(upgrade) {
		return nil, NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported upgrade type %q", upgrade))
	}

	if outReq.URL.Scheme == "" {
		outReq.URL.Scheme = "http"
	}

	outReq.Close = false

	if p.OnRequest != nil {
		if err := p.OnRequest(outReq, inReq); err != nil {
			return nil, err
		}
	}

	cleanRequestHeaders(outReq.Header, inReq)
	addRequestHeaders(outReq.Header, inReq, p.Anonymous)
	restoreUpgradeHeaders(outReq.Header, upgrade)
	appendXForwardedFor(outReq.Header, inReq, p.Anonymous)

	// A Host header set by the OnRequest hook maps onto req.Host for the
	// outbound request. See https://github.com/golang/go/issues/28168.
	if host := outReq.Header.Get(headers.Host); host != "" {
		outReq.Host = host
	}

	return outReq, nil
}
