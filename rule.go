package devproxy

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-zoox/devproxy/utils/rewriter"
)

// Rule forwards requests whose path matches MatchPrefix to Target.
type Rule struct {
	// MatchPrefix is the path prefix that activates the rule. A prefix
	// beginning with "^" is treated as a regular expression over the full
	// request path instead.
	MatchPrefix string

	// Target is the upstream origin, scheme + host + port. It must not carry
	// a path; the forwarded path is the rewritten request path.
	Target string

	// ChangeOrigin rewrites the forwarded Host (and Origin, when present)
	// header to the target host instead of the original client-facing host.
	ChangeOrigin bool

	// Rewrites is applied to the request path exactly once to produce the
	// forwarded path. First matching rewriter wins; default is identity.
	Rewrites rewriter.Rewriters

	// RequestHeaders are set on every forwarded request.
	RequestHeaders http.Header

	// ResponseHeaders are set on every relayed response, before OnResponse
	// runs. This is the declarative surface of the response hook.
	ResponseHeaders http.Header

	// OnResponse, if set, runs exactly once per forwarded request with the
	// upstream response, after ResponseHeaders are applied and before any
	// body byte reaches the client. Header mutation only.
	OnResponse func(res *http.Response) error
}

type compiledRule struct {
	Rule

	target  *url.URL
	pattern *regexp.Regexp // nil for plain prefixes
}

func (r *compiledRule) match(path string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(path)
	}

	return strings.HasPrefix(path, r.MatchPrefix)
}

// RuleSet is an immutable, ordered rule list, validated at construction and
// safe for unsynchronized concurrent reads. The first matching rule wins.
type RuleSet struct {
	rules []*compiledRule
}

// NewRuleSet validates and compiles rules, in order. Any invalid rule yields
// a *ConfigurationError so a bad configuration fails at startup.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	seen := make(map[string]struct{}, len(rules))
	compiled := make([]*compiledRule, 0, len(rules))

	for _, rule := range rules {
		if rule.MatchPrefix == "" {
			return nil, &ConfigurationError{Reason: "matchPrefix is required"}
		}
		if _, ok := seen[rule.MatchPrefix]; ok {
			return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: "duplicate matchPrefix"}
		}
		seen[rule.MatchPrefix] = struct{}{}

		cr := &compiledRule{Rule: rule}

		if strings.HasPrefix(rule.MatchPrefix, "^") {
			re, err := regexp.Compile(rule.MatchPrefix)
			if err != nil {
				return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: fmt.Sprintf("invalid pattern: %s", err)}
			}
			cr.pattern = re
		} else if !strings.HasPrefix(rule.MatchPrefix, "/") {
			return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: "matchPrefix must be an absolute path or a ^-anchored pattern"}
		}

		if rule.Target == "" {
			return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: "target is required"}
		}
		target, err := url.Parse(rule.Target)
		if err != nil {
			return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: fmt.Sprintf("invalid target: %s", err)}
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: fmt.Sprintf("target %q must include scheme and host", rule.Target)}
		}
		if target.Path != "" && target.Path != "/" {
			return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: fmt.Sprintf("target %q must not carry a path", rule.Target)}
		}
		cr.target = target

		if err := rule.Rewrites.Validate(); err != nil {
			return nil, &ConfigurationError{Prefix: rule.MatchPrefix, Reason: fmt.Sprintf("invalid rewrite: %s", err)}
		}

		compiled = append(compiled, cr)
	}

	return &RuleSet{rules: compiled}, nil
}

// Match returns the first rule matching path, or false when no rule matches.
func (s *RuleSet) Match(path string) (*Rule, bool) {
	if cr := s.match(path); cr != nil {
		return &cr.Rule, true
	}

	return nil, false
}

func (s *RuleSet) match(path string) *compiledRule {
	for _, cr := range s.rules {
		if cr.match(path) {
			return cr
		}
	}

	return nil
}

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	return len(s.rules)
}
