package devproxy

import (
	"fmt"
	"net/http"
)

// roundTrip executes the outbound request. Dial refusals, DNS failures and
// torn connections all surface here, before any byte has been written to the
// client, so they can still be reported as a gateway error.
func (p *Proxy) roundTrip(req *http.Request) (*http.Response, error) {
	transport := p.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	res, err := transport.RoundTrip(req)
	if err != nil {
		return nil, NewHTTPError(http.StatusBadGateway, fmt.Sprintf("upstream unavailable: %s", err))
	}

	return res, nil
}
