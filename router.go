package devproxy

import (
	"context"
	"net/http"

	"github.com/go-zoox/headers"
	"github.com/go-zoox/logger"
)

type contextKey string

const ruleContextKey contextKey = "devproxy.rule"

// Router dispatches inbound requests against an ordered rule set and forwards
// matches through a shared engine. Requests no rule matches are left
// untouched for the caller to serve another way.
type Router struct {
	// Fallback serves unmatched requests when the Router is used as an
	// http.Handler directly. Defaults to http.NotFoundHandler.
	Fallback http.Handler

	rules  *RuleSet
	engine *Proxy
}

// RouterConfig is the configuration for the Router.
type RouterConfig struct {
	// Fallback serves unmatched requests in ServeHTTP. Default is a 404.
	Fallback http.Handler

	// Transport overrides http.DefaultTransport for outbound requests.
	Transport http.RoundTripper

	// OnError overrides the engine's error handler.
	OnError func(err error, rw http.ResponseWriter, req *http.Request)

	// Anonymous suppresses the X-Real-Ip and X-Forwarded-* request headers.
	Anonymous bool
}

// NewRouter creates a Router over an already validated rule set.
func NewRouter(rules *RuleSet, cfg ...*RouterConfig) *Router {
	cfgX := &RouterConfig{}
	if len(cfg) != 0 && cfg[0] != nil {
		cfgX = cfg[0]
	}

	fallback := cfgX.Fallback
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}

	r := &Router{
		Fallback: fallback,
		rules:    rules,
	}
	r.engine = New(&Config{
		OnRequest:  r.prepareRequest,
		OnResponse: r.finishResponse,
		OnError:    cfgX.OnError,
		Transport:  cfgX.Transport,
		Anonymous:  cfgX.Anonymous,
	})

	return r
}

// Handle forwards req if a rule matches its path and reports whether it did.
// A false return means no rule matched: nothing has been written and no
// upstream connection was attempted, so the caller can fall through to its
// own serving logic.
func (r *Router) Handle(rw http.ResponseWriter, req *http.Request) bool {
	rule := r.rules.match(req.URL.Path)
	if rule == nil {
		return false
	}

	ctx := context.WithValue(req.Context(), ruleContextKey, rule)
	r.engine.ServeHTTP(rw, req.WithContext(ctx))
	return true
}

// ServeHTTP forwards matched requests and delegates the rest to Fallback.
func (r *Router) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if !r.Handle(rw, req) {
		r.Fallback.ServeHTTP(rw, req)
	}
}

// Rules returns the router's rule set.
func (r *Router) Rules() *RuleSet {
	return r.rules
}

func matchedRule(req *http.Request) (*compiledRule, bool) {
	rule, ok := req.Context().Value(ruleContextKey).(*compiledRule)
	return rule, ok
}

func (r *Router) prepareRequest(outReq, inReq *http.Request) error {
	rule, ok := matchedRule(inReq)
	if !ok {
		// Handle is the only entry point, so this is unreachable.
		return NewHTTPError(http.StatusNotFound, "no proxy rule matched")
	}

	outReq.URL.Scheme = rule.target.Scheme
	outReq.URL.Host = rule.target.Host

	if forwarded := rule.Rewrites.Rewrite(outReq.URL.Path); forwarded != outReq.URL.Path {
		outReq.URL.Path = forwarded
		// the encoded form no longer corresponds to the rewritten path
		outReq.URL.RawPath = ""
	}

	if rule.ChangeOrigin {
		outReq.Host = rule.target.Host
		if outReq.Header.Get(headers.Origin) != "" {
			outReq.Header.Set(headers.Origin, rule.target.Scheme+"://"+rule.target.Host)
		}
	}

	for k, v := range rule.RequestHeaders {
		outReq.Header.Set(k, v[0])
	}

	if outReq.Header.Get(headers.UserAgent) == "" {
		outReq.Header.Set(headers.UserAgent, "devproxy/"+Version)
	}

	logger.Infof("[devproxy] %s %s -> %s://%s%s", inReq.Method, inReq.URL.Path, outReq.URL.Scheme, outReq.URL.Host, outReq.URL.Path)

	return nil
}

func (r *Router) finishResponse(res *http.Response, inReq *http.Request) error {
	rule, ok := matchedRule(inReq)
	if !ok {
		return nil
	}

	for k, v := range rule.ResponseHeaders {
		res.Header.Set(k, v[0])
	}

	if rule.OnResponse != nil {
		if err := rule.OnResponse(res); err != nil {
			return err
		}
	}

	return nil
}
